// Package rpc serves the escrow engine over JSON-RPC 2.0.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/catalogfi/otc/pkg/auth"
	"github.com/catalogfi/otc/pkg/escrow"
	"github.com/catalogfi/otc/pkg/otc"
	"github.com/catalogfi/otc/pkg/store"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Request defines a JSON-RPC 2.0 request object.
type Request struct {
	Version string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response defines a JSON-RPC 2.0 response object.
type Response struct {
	Version string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error defines a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *Error) Error() string {
	if e.Data == "" {
		return e.Message
	}
	return e.Message + ": " + e.Data
}

// Error codes
const (
	ErrorCodeParseError        = -32700
	ErrorMessageParseError     = "Parse error"
	ErrorCodeInvalidRequest    = -32600
	ErrorMessageInvalidRequest = "Invalid Request"
	ErrorCodeMethodNotFound    = -32601
	ErrorMessageMethodNotFound = "Method not found"
	ErrorCodeInvalidParams     = -32602
	ErrorMessageInvalidParams  = "Invalid params"
	ErrorCodeInternalError     = -32603
	ErrorMessageInternalError  = "Internal error"

	ErrorCodeNotFound           = -32001
	ErrorCodeUnauthorized       = -32002
	ErrorCodeInvalidState       = -32003
	ErrorCodeInsufficientFunds  = -32004
	ErrorCodeExtraFundsReceived = -32005
	ErrorCodeInvalidAddress     = -32006
	ErrorCodeInvalidFeeConfig   = -32007
	ErrorCodeNothingToClaim     = -32008
	ErrorCodeExpired            = -32009
	ErrorCodeInvalidItem        = -32010
)

var domainErrors = []struct {
	err  error
	code int
}{
	{otc.ErrNotFound, ErrorCodeNotFound},
	{otc.ErrUnauthorized, ErrorCodeUnauthorized},
	{otc.ErrInvalidState, ErrorCodeInvalidState},
	{store.ErrConfigNotFound, ErrorCodeInvalidState},
	{otc.ErrInsufficientFunds, ErrorCodeInsufficientFunds},
	{otc.ErrExtraFundsReceived, ErrorCodeExtraFundsReceived},
	{otc.ErrInvalidAddress, ErrorCodeInvalidAddress},
	{otc.ErrInvalidFeeConfiguration, ErrorCodeInvalidFeeConfig},
	{otc.ErrNothingToClaim, ErrorCodeNothingToClaim},
	{otc.ErrExpired, ErrorCodeExpired},
	{otc.ErrInvalidItem, ErrorCodeInvalidItem},
}

func NewResponse(id interface{}, result json.RawMessage, err *Error) Response {
	return Response{
		Version: "2.0",
		ID:      id,
		Result:  result,
		Error:   err,
	}
}

func NewError(code int, message string, data string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// errInvalidParams marks errors decoding method parameters.
var errInvalidParams = errors.New("invalid params")

// toError converts a method failure into a JSON-RPC error and the HTTP status to send it with.
func toError(err error) (*Error, int) {
	if errors.Is(err, errInvalidParams) {
		return NewError(ErrorCodeInvalidParams, ErrorMessageInvalidParams, err.Error()), http.StatusBadRequest
	}
	for _, de := range domainErrors {
		if errors.Is(err, de.err) {
			return NewError(de.code, de.err.Error(), err.Error()), http.StatusOK
		}
	}
	return NewError(ErrorCodeInternalError, ErrorMessageInternalError, err.Error()), http.StatusInternalServerError
}

type Server struct {
	commands map[string]Method
	engine   escrow.Engine
	auth     *auth.Authenticator
	metrics  http.Handler
	logger   *zap.Logger
	now      func() time.Time
	router   *gin.Engine
}

// NewServer registers every escrow method. metrics may be nil.
func NewServer(engine escrow.Engine, authenticator *auth.Authenticator, metrics http.Handler, logger *zap.Logger) *Server {
	s := &Server{
		commands: make(map[string]Method),
		engine:   engine,
		auth:     authenticator,
		metrics:  metrics,
		logger:   logger.With(zap.String("service", "rpc")),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, cmd := range Methods() {
		s.AddCommand(cmd)
	}
	s.router = s.routes()
	return s
}

func (s *Server) AddCommand(cmd Method) {
	s.commands[cmd.Name()] = cmd
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/nonce", s.nonce)
	router.POST("/verify", s.verify)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}
	router.POST("/", s.identify, s.HandleJSONRPC)
	return router
}

func (s *Server) nonce(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"nonce": s.auth.Nonce()})
}

func (s *Server) verify(ctx *gin.Context) {
	req := auth.VerifySiwe{}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, err := s.auth.Verify(req)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"token": token})
}

// identify resolves the caller from an optional bearer token. Queries are public; state changing
// methods fail with an unauthorized error when no wallet was identified.
func (s *Server) identify(ctx *gin.Context) {
	header := ctx.GetHeader("Authorization")
	if header == "" {
		ctx.Next()
		return
	}
	wallet, err := s.auth.Parse(header)
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, NewResponse(nil, nil, NewError(ErrorCodeUnauthorized, otc.ErrUnauthorized.Error(), err.Error())))
		return
	}
	ctx.Set(auth.WalletKey, wallet)
	ctx.Next()
}

func (s *Server) HandleJSONRPC(ctx *gin.Context) {
	req := Request{}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, NewResponse(req.ID, nil, NewError(ErrorCodeParseError, ErrorMessageParseError, err.Error())))
		return
	}
	if req.Version != "2.0" {
		ctx.JSON(http.StatusBadRequest, NewResponse(req.ID, nil, NewError(ErrorCodeInvalidRequest, ErrorMessageInvalidRequest, "jsonrpc must be 2.0")))
		return
	}

	cmd, ok := s.commands[req.Method]
	if !ok {
		ctx.JSON(http.StatusNotFound, NewResponse(req.ID, nil, NewError(ErrorCodeMethodNotFound, ErrorMessageMethodNotFound, req.Method)))
		return
	}

	wallet, _ := auth.Wallet(ctx)
	call := Call{
		Engine: s.engine,
		Sender: otc.Address(wallet),
		Time:   s.now(),
	}
	result, err := cmd.Query(ctx.Request.Context(), call, req.Params)
	if err != nil {
		rpcErr, status := toError(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("method failed", zap.String("method", req.Method), zap.Error(err))
		}
		ctx.JSON(status, NewResponse(req.ID, nil, rpcErr))
		return
	}

	ctx.JSON(http.StatusOK, NewResponse(req.ID, result, nil))
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	service := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errs := make(chan error, 1)
	go func() {
		if err := service.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
		close(errs)
	}()
	s.logger.Info("listening", zap.String("addr", addr))

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("stopped")
	return nil
}
