package rpcclient_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"net/http/httptest"
	"time"

	"github.com/catalogfi/otc/pkg/auth"
	"github.com/catalogfi/otc/pkg/escrow"
	"github.com/catalogfi/otc/pkg/otc"
	"github.com/catalogfi/otc/pkg/registry"
	"github.com/catalogfi/otc/pkg/rpc"
	"github.com/catalogfi/otc/pkg/rpcclient"
	"github.com/catalogfi/otc/pkg/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const domain = "otc.catalog.fi"

var _ = Describe("Client", func() {
	var (
		server      *httptest.Server
		ownerKey    *ecdsa.PrivateKey
		executorKey *ecdsa.PrivateKey
		holder      = otc.Address(common.HexToAddress("0x05").Hex())
		collector   = otc.Address(common.HexToAddress("0x04").Hex())
		token       = otc.Address(common.HexToAddress("0x0a").Hex())
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		var err error
		ownerKey, err = crypto.GenerateKey()
		Expect(err).To(BeNil())
		executorKey, err = crypto.GenerateKey()
		Expect(err).To(BeNil())

		validator := otc.NewHexValidator()
		resolver, err := registry.NewStatic(otc.Fee{Ratio: decimal.RequireFromString("0.1"), Collector: collector}, validator)
		Expect(err).To(BeNil())
		engine, err := escrow.New(store.NewMemStore(), resolver, validator, holder, zap.NewNop(), nil)
		Expect(err).To(BeNil())
		_, err = engine.Instantiate(context.Background(), crypto.PubkeyToAddress(ownerKey.PublicKey).Hex())
		Expect(err).To(BeNil())

		server = httptest.NewServer(rpc.NewServer(engine, auth.New("SECRET", domain, time.Hour), nil, zap.NewNop()).Handler())
		DeferCleanup(server.Close)
	})

	It("should trade a position end to end", func() {
		owner := rpcclient.NewClient(server.URL)
		_, err := owner.SignIn(ownerKey, domain)
		Expect(err).To(BeNil())
		executor := rpcclient.NewClient(server.URL)
		_, err = executor.SignIn(executorKey, domain)
		Expect(err).To(BeNil())
		executorAddr := otc.Address(crypto.PubkeyToAddress(executorKey.PublicKey).Hex())

		By("Creating a position restricted to the executor")
		cp := executorAddr.String()
		created, err := owner.CreatePosition(rpc.CreatePositionParams{
			Funds: otc.Coins{otc.NewCoin("luna", 100)},
			CreatePosition: escrow.CreatePosition{
				Counterparty: &cp,
				Offer:        []escrow.ItemSpec{{Info: otc.Native("luna", decimal.NewFromInt(100))}},
				Ask:          []escrow.ItemSpec{{Info: otc.Fungible(token, decimal.NewFromInt(40))}},
			},
		})
		Expect(err).To(BeNil())
		Expect(created.PositionID).To(Equal(uint64(1)))

		positions, err := owner.ListPositionsByCounterparty(escrow.ListPositionsByCounterparty{Counterparty: cp})
		Expect(err).To(BeNil())
		Expect(positions).To(HaveLen(1))

		By("Refusing a cancel from the executor")
		_, err = executor.CancelPosition(1)
		var rpcErr *rpc.Error
		Expect(errors.As(err, &rpcErr)).To(BeTrue())
		Expect(rpcErr.Code).To(Equal(rpc.ErrorCodeUnauthorized))

		By("Settling it")
		settled, err := executor.SettlePosition(rpc.SettlePositionParams{SettlePosition: escrow.SettlePosition{ID: 1}})
		Expect(err).To(BeNil())
		status, _ := settled.Attribute("current_status")
		Expect(status).To(Equal("executed"))

		position, err := owner.GetPosition(escrow.GetPosition{ID: 1, Partition: otc.PartitionExecuted})
		Expect(err).To(BeNil())
		Expect(position.Offer[0].Info.Amount.String()).To(Equal("90"))
		Expect(position.Ask[0].Info.Amount.String()).To(Equal("36"))

		cfg, err := executor.GetConfig()
		Expect(err).To(BeNil())
		Expect(cfg.Counter).To(Equal(uint64(1)))
	})

	It("should reject anonymous state changes", func() {
		_, err := rpcclient.NewClient(server.URL).ClaimPosition(1)
		var rpcErr *rpc.Error
		Expect(errors.As(err, &rpcErr)).To(BeTrue())
		Expect(rpcErr.Code).To(Equal(rpc.ErrorCodeUnauthorized))
	})
})
