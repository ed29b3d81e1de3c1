package rpcclient

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/catalogfi/otc/pkg/auth"
	"github.com/catalogfi/otc/pkg/escrow"
	"github.com/catalogfi/otc/pkg/otc"
	"github.com/catalogfi/otc/pkg/rpc"
	"github.com/catalogfi/otc/pkg/store"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spruceid/siwe-go"
)

type Client interface {
	// SignIn runs the sign in flow with key and keeps the issued token for later calls.
	SignIn(key *ecdsa.PrivateKey, domain string) (string, error)
	SetToken(token string)

	CreatePosition(req rpc.CreatePositionParams) (escrow.Response, error)
	SettlePosition(req rpc.SettlePositionParams) (escrow.Response, error)
	ClaimPosition(id uint64) (escrow.Response, error)
	CancelPosition(id uint64) (escrow.Response, error)
	UpdateFee(fee otc.Fee) (escrow.Response, error)

	GetPosition(req escrow.GetPosition) (otc.Position, error)
	ListPositions(req escrow.ListPositions) ([]otc.Position, error)
	ListPositionsByOwner(req escrow.ListPositionsByOwner) ([]otc.Position, error)
	ListPositionsByCounterparty(req escrow.ListPositionsByCounterparty) ([]otc.Position, error)
	GetConfig() (store.Config, error)
}

type client struct {
	url        string
	token      string
	httpClient *http.Client
	nextID     uint64
}

// NewClient returns a client for the daemon listening at url, e.g. http://127.0.0.1:8080.
func NewClient(url string) Client {
	return &client{
		url:        strings.TrimSuffix(url, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) SetToken(token string) {
	c.token = token
}

func (c *client) SignIn(key *ecdsa.PrivateKey, domain string) (string, error) {
	var nonce struct {
		Nonce string `json:"nonce"`
	}
	if err := c.rest(http.MethodGet, "/nonce", nil, &nonce); err != nil {
		return "", err
	}

	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	message, err := siwe.InitMessage(domain, address, "https://"+domain, nonce.Nonce, map[string]interface{}{
		"chainId":   1,
		"statement": "Sign in to the otc escrow",
	})
	if err != nil {
		return "", fmt.Errorf("failed to build sign in message: %w", err)
	}
	signature, err := crypto.Sign(accounts.TextHash([]byte(message.String())), key)
	if err != nil {
		return "", err
	}
	signature[64] += 27

	var token struct {
		Token string `json:"token"`
	}
	req := auth.VerifySiwe{Message: message.String(), Signature: hexutil.Encode(signature)}
	if err := c.rest(http.MethodPost, "/verify", req, &token); err != nil {
		return "", err
	}
	c.token = token.Token
	return token.Token, nil
}

func (c *client) rest(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	httpRequest, err := http.NewRequest(method, c.url+path, reader)
	if err != nil {
		return err
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return err
	}
	defer httpResponse.Body.Close()
	respBytes, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return fmt.Errorf("error reading reply: %v", err)
	}
	if httpResponse.StatusCode != http.StatusOK {
		return fmt.Errorf("%d %s: %s", httpResponse.StatusCode, http.StatusText(httpResponse.StatusCode), respBytes)
	}
	return json.Unmarshal(respBytes, out)
}

// SendPostRequest sends a JSON-RPC request and decodes the result into out. Failures reported by
// the server are returned as *rpc.Error.
func (c *client) SendPostRequest(method string, params, out interface{}) error {
	jsonData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	payload := rpc.Request{
		Version: "2.0",
		ID:      atomic.AddUint64(&c.nextID, 1),
		Method:  method,
		Params:  json.RawMessage(jsonData),
	}
	marshalledJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	httpRequest, err := http.NewRequest(http.MethodPost, c.url+"/", bytes.NewReader(marshalledJSON))
	if err != nil {
		return err
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return err
	}
	respBytes, err := io.ReadAll(httpResponse.Body)
	httpResponse.Body.Close()
	if err != nil {
		return fmt.Errorf("error reading json reply: %v", err)
	}

	var resp rpc.Response
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		if len(respBytes) == 0 {
			return fmt.Errorf("%d %s", httpResponse.StatusCode, http.StatusText(httpResponse.StatusCode))
		}
		return fmt.Errorf("%d: %s", httpResponse.StatusCode, respBytes)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

func (c *client) respond(method string, params interface{}) (escrow.Response, error) {
	var resp escrow.Response
	err := c.SendPostRequest(method, params, &resp)
	return resp, err
}

func (c *client) list(method string, params interface{}) ([]otc.Position, error) {
	var positions []otc.Position
	err := c.SendPostRequest(method, params, &positions)
	return positions, err
}

func (c *client) CreatePosition(req rpc.CreatePositionParams) (escrow.Response, error) {
	return c.respond(rpc.MethodCreatePosition, req)
}

func (c *client) SettlePosition(req rpc.SettlePositionParams) (escrow.Response, error) {
	return c.respond(rpc.MethodSettlePosition, req)
}

func (c *client) ClaimPosition(id uint64) (escrow.Response, error) {
	return c.respond(rpc.MethodClaimPosition, escrow.ClaimPosition{ID: id})
}

func (c *client) CancelPosition(id uint64) (escrow.Response, error) {
	return c.respond(rpc.MethodCancelPosition, escrow.CancelPosition{ID: id})
}

func (c *client) UpdateFee(fee otc.Fee) (escrow.Response, error) {
	return c.respond(rpc.MethodUpdateFee, fee)
}

func (c *client) GetPosition(req escrow.GetPosition) (otc.Position, error) {
	var position otc.Position
	err := c.SendPostRequest(rpc.MethodGetPosition, req, &position)
	return position, err
}

func (c *client) ListPositions(req escrow.ListPositions) ([]otc.Position, error) {
	return c.list(rpc.MethodListPositions, req)
}

func (c *client) ListPositionsByOwner(req escrow.ListPositionsByOwner) ([]otc.Position, error) {
	return c.list(rpc.MethodListPositionsByOwner, req)
}

func (c *client) ListPositionsByCounterparty(req escrow.ListPositionsByCounterparty) ([]otc.Position, error) {
	return c.list(rpc.MethodListPositionsByCounterparty, req)
}

func (c *client) GetConfig() (store.Config, error) {
	var cfg store.Config
	err := c.SendPostRequest(rpc.MethodGetConfig, struct{}{}, &cfg)
	return cfg, err
}
