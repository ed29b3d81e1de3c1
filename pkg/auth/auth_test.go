package auth_test

import (
	"crypto/ecdsa"
	"strings"
	"time"

	"github.com/catalogfi/otc/pkg/auth"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spruceid/siwe-go"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const domain = "otc.catalog.fi"

func signIn(key *ecdsa.PrivateKey, nonce string) auth.VerifySiwe {
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	message, err := siwe.InitMessage(domain, address, "https://"+domain, nonce, map[string]interface{}{
		"chainId":   1,
		"statement": "Sign in to the otc desk",
	})
	Expect(err).To(BeNil())

	signature, err := crypto.Sign(accounts.TextHash([]byte(message.String())), key)
	Expect(err).To(BeNil())
	signature[64] += 27
	return auth.VerifySiwe{Message: message.String(), Signature: hexutil.Encode(signature)}
}

var _ = Describe("Authenticator", func() {
	var (
		a   *auth.Authenticator
		key *ecdsa.PrivateKey
	)

	BeforeEach(func() {
		a = auth.New("SECRET", domain, time.Hour)
		var err error
		key, err = crypto.GenerateKey()
		Expect(err).To(BeNil())
	})

	It("should issue a token for the signing wallet", func() {
		token, err := a.Verify(signIn(key, a.Nonce()))
		Expect(err).To(BeNil())

		wallet, err := a.Parse("Bearer " + token)
		Expect(err).To(BeNil())
		Expect(wallet).To(Equal(strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())))
	})

	It("should only accept a nonce once", func() {
		req := signIn(key, a.Nonce())
		_, err := a.Verify(req)
		Expect(err).To(BeNil())
		_, err = a.Verify(req)
		Expect(err).To(MatchError(auth.ErrInvalidMessage))

		_, err = a.Verify(signIn(key, "unknownnonce1"))
		Expect(err).To(MatchError(auth.ErrInvalidMessage))
	})

	It("should reject a signature from another wallet", func() {
		req := signIn(key, a.Nonce())
		other, err := crypto.GenerateKey()
		Expect(err).To(BeNil())
		forged := signIn(other, a.Nonce())
		req.Signature = forged.Signature

		_, err = a.Verify(req)
		Expect(err).To(MatchError(auth.ErrInvalidSignature))
	})

	It("should reject tokens signed with another secret", func() {
		token, err := auth.New("OTHER", domain, time.Hour).Issue("0xabc")
		Expect(err).To(BeNil())
		_, err = a.Parse(token)
		Expect(err).To(MatchError(auth.ErrInvalidToken))
	})

	It("should accept bearer tokens and lowercase the wallet", func() {
		token, err := a.Issue("0xABC")
		Expect(err).To(BeNil())
		wallet, err := a.Parse("Bearer " + token)
		Expect(err).To(BeNil())
		Expect(wallet).To(Equal("0xabc"))
	})
})
