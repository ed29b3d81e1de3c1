package rpc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/catalogfi/otc/pkg/auth"
	"github.com/catalogfi/otc/pkg/escrow"
	"github.com/catalogfi/otc/pkg/metrics"
	"github.com/catalogfi/otc/pkg/otc"
	"github.com/catalogfi/otc/pkg/registry"
	"github.com/catalogfi/otc/pkg/rpc"
	"github.com/catalogfi/otc/pkg/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var (
	owner    = common.HexToAddress("0x01").Hex()
	stranger = common.HexToAddress("0x03").Hex()
	holder   = otc.Address(common.HexToAddress("0x05").Hex())
	token    = otc.Address(common.HexToAddress("0x0a").Hex())
)

var _ = Describe("Server", func() {
	var (
		handler       http.Handler
		authenticator *auth.Authenticator
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		validator := otc.NewHexValidator()
		resolver, err := registry.NewStatic(otc.Fee{}, validator)
		Expect(err).To(BeNil())
		collector := metrics.NewCollector("otc")
		engine, err := escrow.New(store.NewMemStore(), resolver, validator, holder, zap.NewNop(), collector)
		Expect(err).To(BeNil())
		_, err = engine.Instantiate(context.Background(), owner)
		Expect(err).To(BeNil())

		authenticator = auth.New("SECRET", "", time.Hour)
		handler = rpc.NewServer(engine, authenticator, collector.Handler(), zap.NewNop()).Handler()
	})

	call := func(wallet, method string, params interface{}) (int, rpc.Response) {
		data, err := json.Marshal(params)
		Expect(err).To(BeNil())
		body, err := json.Marshal(rpc.Request{Version: "2.0", ID: 1, Method: method, Params: data})
		Expect(err).To(BeNil())

		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if wallet != "" {
			token, err := authenticator.Issue(wallet)
			Expect(err).To(BeNil())
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		var resp rpc.Response
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		return rec.Code, resp
	}

	createParams := rpc.CreatePositionParams{
		CreatePosition: escrow.CreatePosition{
			Offer: []escrow.ItemSpec{{Info: otc.Fungible(token, decimal.NewFromInt(10))}},
			Ask:   []escrow.ItemSpec{{Info: otc.Native("btc", decimal.NewFromInt(5))}},
		},
	}

	It("should create and read back a position", func() {
		code, resp := call(owner, rpc.MethodCreatePosition, createParams)
		Expect(code).To(Equal(http.StatusOK))
		Expect(resp.Error).To(BeNil())

		var created escrow.Response
		Expect(json.Unmarshal(resp.Result, &created)).To(Succeed())
		Expect(created.PositionID).To(Equal(uint64(1)))

		code, resp = call("", rpc.MethodGetPosition, escrow.GetPosition{ID: 1})
		Expect(code).To(Equal(http.StatusOK))
		var position otc.Position
		Expect(json.Unmarshal(resp.Result, &position)).To(Succeed())
		Expect(position.Owner.String()).To(Equal(owner))
		Expect(position.Status.Kind).To(Equal(otc.StatusPending))

		code, resp = call("", rpc.MethodListPositionsByOwner, escrow.ListPositionsByOwner{Owner: owner})
		Expect(code).To(Equal(http.StatusOK))
		var positions []otc.Position
		Expect(json.Unmarshal(resp.Result, &positions)).To(Succeed())
		Expect(positions).To(HaveLen(1))
	})

	It("should map domain errors onto stable codes", func() {
		_, resp := call("", rpc.MethodCreatePosition, createParams)
		Expect(resp.Error).NotTo(BeNil())
		Expect(resp.Error.Code).To(Equal(rpc.ErrorCodeUnauthorized))

		_, resp = call(owner, rpc.MethodCreatePosition, rpc.CreatePositionParams{
			Funds:          otc.Coins{otc.NewCoin("luna", 1)},
			CreatePosition: createParams.CreatePosition,
		})
		Expect(resp.Error.Code).To(Equal(rpc.ErrorCodeExtraFundsReceived))

		_, resp = call(stranger, rpc.MethodCancelPosition, escrow.CancelPosition{ID: 9})
		Expect(resp.Error.Code).To(Equal(rpc.ErrorCodeNotFound))

		_, resp = call(stranger, rpc.MethodUpdateFee, otc.Fee{})
		Expect(resp.Error.Code).To(Equal(rpc.ErrorCodeInvalidFeeConfig))
	})

	It("should reject malformed requests", func() {
		code, resp := call(owner, "unknownMethod", nil)
		Expect(code).To(Equal(http.StatusNotFound))
		Expect(resp.Error.Code).To(Equal(rpc.ErrorCodeMethodNotFound))

		code, resp = call(owner, rpc.MethodClaimPosition, "not an object")
		Expect(code).To(Equal(http.StatusBadRequest))
		Expect(resp.Error.Code).To(Equal(rpc.ErrorCodeInvalidParams))

		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("should not let a signed in wallet claim ownership", func() {
		validator := otc.NewHexValidator()
		resolver, err := registry.NewStatic(otc.Fee{}, validator)
		Expect(err).To(BeNil())
		engine, err := escrow.New(store.NewMemStore(), resolver, validator, holder, zap.NewNop(), nil)
		Expect(err).To(BeNil())
		handler = rpc.NewServer(engine, authenticator, nil, zap.NewNop()).Handler()

		code, resp := call(stranger, "instantiate", map[string]string{"owner": stranger})
		Expect(code).To(Equal(http.StatusNotFound))
		Expect(resp.Error.Code).To(Equal(rpc.ErrorCodeMethodNotFound))

		_, err = engine.Config(context.Background())
		Expect(err).To(MatchError(store.ErrConfigNotFound))

		code, resp = call(stranger, rpc.MethodUpdateFee, otc.Fee{Ratio: decimal.RequireFromString("0.5"), Collector: otc.Address(stranger)})
		Expect(code).To(Equal(http.StatusOK))
		Expect(resp.Error).NotTo(BeNil())
		Expect(resp.Result).To(BeEmpty())
	})

	It("should refuse forged tokens", func() {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"getConfig"}`))
		req.Header.Set("Authorization", "Bearer forged")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})

	It("should expose the auxiliary routes", func() {
		call(owner, rpc.MethodGetConfig, nil)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nonce", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("nonce"))

		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("otc_escrow_operations_total"))
	})
})
