package server

import (
	"bytes"
	"crypto/ecdsa"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stamphq/iam-service/config"
	"github.com/stamphq/iam-service/internal/credential"
	"github.com/stamphq/iam-service/pkg/server/router"
	svcframework "github.com/stamphq/iam-service/pkg/service/framework"
	"github.com/stamphq/iam-service/pkg/service/verification"
)

const testChainID = "0xa"

func TestHealthCheckAPI(t *testing.T) {
	server := testIAMServer(t)

	req := httptest.NewRequest(http.MethodGet, "https://iam-service.com/health", nil)
	w := httptest.NewRecorder()
	server.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Result().StatusCode)

	var resp router.GetHealthCheckResponse
	err := json.NewDecoder(w.Body).Decode(&resp)
	assert.NoError(t, err)
	assert.Equal(t, "OK", resp.Status)
}

func TestReadinessAPI(t *testing.T) {
	server := testIAMServer(t)

	req := httptest.NewRequest(http.MethodGet, "https://iam-service.com/readiness", nil)
	w := httptest.NewRecorder()
	server.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Result().StatusCode)

	var resp router.GetReadinessResponse
	err := json.NewDecoder(w.Body).Decode(&resp)
	assert.NoError(t, err)

	assert.Equal(t, svcframework.StatusReady, resp.Status.Status)
	assert.Equal(t, "all services ready", resp.Status.Message)
	assert.Len(t, resp.ServiceStatuses, 4)
}

func TestChallengeAPI(t *testing.T) {
	server := testIAMServer(t)

	t.Run("Test Missing Address", func(tt *testing.T) {
		request := router.ChallengeRequest{}
		request.Payload.Type = "Simple"

		w := post(tt, server, ChallengePath, request)
		assert.Equal(tt, http.StatusBadRequest, w.Result().StatusCode)
		assert.Equal(tt, "Missing address from challenge request body", errorMessage(tt, w))
	})

	t.Run("Test Missing Type", func(tt *testing.T) {
		request := router.ChallengeRequest{}
		request.Payload.Address = testWalletAddress(tt)

		w := post(tt, server, ChallengePath, request)
		assert.Equal(tt, http.StatusBadRequest, w.Result().StatusCode)
		assert.Equal(tt, "Missing type from challenge request body", errorMessage(tt, w))
	})

	t.Run("Test Issue Challenge", func(tt *testing.T) {
		address := testWalletAddress(tt)
		request := router.ChallengeRequest{}
		request.Payload.Type = "Simple"
		request.Payload.Address = address

		w := post(tt, server, ChallengePath, request)
		assert.Equal(tt, http.StatusOK, w.Result().StatusCode)

		var resp router.CredentialResponse
		err := json.NewDecoder(w.Body).Decode(&resp)
		assert.NoError(tt, err)
		require.NotNil(tt, resp.Credential)

		assert.Equal(tt, "challenge-Simple", resp.Credential.CredentialSubject.Provider())
		assert.Equal(tt, address, resp.Credential.CredentialSubject.Address())
		assert.Contains(tt, resp.Credential.CredentialSubject.Challenge(), "nonce: ")
		assert.NotNil(tt, resp.Credential.Proof)
	})
}

func TestVerifyAPI(t *testing.T) {
	server := testIAMServer(t)

	t.Run("Test Malformed Request", func(tt *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "https://iam-service.com"+APIPrefix+VerifyPath, strings.NewReader("not json"))
		w := httptest.NewRecorder()
		server.Handler.ServeHTTP(w, req)
		assert.Equal(tt, http.StatusBadRequest, w.Result().StatusCode)
		assert.Equal(tt, "Incorrect payload", errorMessage(tt, w))
	})

	t.Run("Test Missing Challenge", func(tt *testing.T) {
		request := map[string]any{"payload": map[string]any{"type": "Simple", "address": testWalletAddress(tt)}}

		w := post(tt, server, VerifyPath, request)
		assert.Equal(tt, http.StatusBadRequest, w.Result().StatusCode)
		assert.Equal(tt, "Incorrect payload", errorMessage(tt, w))
	})

	t.Run("Test Verify Single Stamp", func(tt *testing.T) {
		wallet := newWallet(tt)
		request := signedVerifyRequest(tt, server, wallet, "Simple")

		w := post(tt, server, VerifyPath, request)
		assert.Equal(tt, http.StatusOK, w.Result().StatusCode)

		var resp router.StampResponse
		err := json.NewDecoder(w.Body).Decode(&resp)
		assert.NoError(tt, err)
		require.NotNil(tt, resp.Credential)

		assert.Equal(tt, "Simple", resp.Record["type"])
		assert.Equal(tt, "test-user", resp.Record["username"])
		assert.Equal(tt, "Simple", resp.Credential.CredentialSubject.Provider())
		assert.Equal(tt, "did:pkh:eip155:1:"+strings.ToLower(walletAddress(wallet)), resp.Credential.CredentialSubject.ID())
	})

	t.Run("Test Verify Multiple Stamps", func(tt *testing.T) {
		wallet := newWallet(tt)
		request := signedVerifyRequest(tt, server, wallet, "Simple")
		request.Payload.Types = []string{"Simple", "Unknown"}

		w := post(tt, server, VerifyPath, request)
		assert.Equal(tt, http.StatusOK, w.Result().StatusCode)

		var resp []json.RawMessage
		err := json.NewDecoder(w.Body).Decode(&resp)
		assert.NoError(tt, err)
		require.Len(tt, resp, 2)

		var stamp router.StampResponse
		err = json.Unmarshal(resp[0], &stamp)
		assert.NoError(tt, err)
		assert.Equal(tt, "Simple", stamp.Record["type"])

		var failed router.FailedStampResponse
		err = json.Unmarshal(resp[1], &failed)
		assert.NoError(tt, err)
		assert.False(tt, failed.Valid)
		assert.Contains(tt, failed.Error, "Unsupported provider")
		assert.Equal(tt, http.StatusBadRequest, failed.Code)
	})

	t.Run("Test Invalid Proof", func(tt *testing.T) {
		wallet := newWallet(tt)
		request := signedVerifyRequest(tt, server, wallet, "Simple")
		request.Payload.Proofs["valid"] = "false"

		w := post(tt, server, VerifyPath, request)
		assert.Equal(tt, http.StatusForbidden, w.Result().StatusCode)
		assert.Equal(tt, "Proof is not valid", errorMessage(tt, w))
	})

	t.Run("Test Wrong Signer", func(tt *testing.T) {
		wallet := newWallet(tt)
		request := signedVerifyRequest(tt, server, wallet, "Simple")
		other := newWallet(tt)
		request.Payload.Proofs["signature"] = signText(tt, other, request.Challenge.CredentialSubject.Challenge())

		w := post(tt, server, VerifyPath, request)
		assert.Equal(tt, http.StatusUnauthorized, w.Result().StatusCode)
		assert.Equal(tt, "Invalid challenge 'signer' and 'provider'", errorMessage(tt, w))
	})

	t.Run("Test Challenge Type Mismatch", func(tt *testing.T) {
		wallet := newWallet(tt)
		request := signedVerifyRequest(tt, server, wallet, "Simple")
		request.Payload.Type = "ClearTextSimple"

		w := post(tt, server, VerifyPath, request)
		assert.Equal(tt, http.StatusUnauthorized, w.Result().StatusCode)
		assert.Equal(tt, "Invalid challenge 'signer' and 'provider'", errorMessage(tt, w))
	})
}

func TestCheckAPI(t *testing.T) {
	server := testIAMServer(t)

	t.Run("Test Missing Address", func(tt *testing.T) {
		request := router.CheckRequest{}
		request.Payload.Type = "Simple"

		w := post(tt, server, CheckPath, request)
		assert.Equal(tt, http.StatusBadRequest, w.Result().StatusCode)
		assert.Equal(tt, "Incorrect payload", errorMessage(tt, w))
	})

	t.Run("Test Check Stamps", func(tt *testing.T) {
		wallet := newWallet(tt)
		request := router.CheckRequest{
			Payload: credential.RequestPayload{
				Address: walletAddress(wallet),
				Types:   []string{"Simple", "Unknown"},
				Proofs:  map[string]string{"valid": "true", "username": "test-user"},
			},
		}

		w := post(tt, server, CheckPath, request)
		assert.Equal(tt, http.StatusOK, w.Result().StatusCode)

		var resp []verification.CheckOutcome
		err := json.NewDecoder(w.Body).Decode(&resp)
		assert.NoError(tt, err)
		require.Len(tt, resp, 2)

		assert.Equal(tt, "Simple", resp[0].Type)
		assert.True(tt, resp[0].Valid)
		assert.Equal(tt, "Unknown", resp[1].Type)
		assert.False(tt, resp[1].Valid)
		assert.Equal(tt, "Unsupported provider", resp[1].Error)
	})
}

func TestAttestationAPI(t *testing.T) {
	server := testIAMServer(t)

	t.Run("Test No Stamps", func(tt *testing.T) {
		request := map[string]any{"credentials": []any{}, "nonce": "7", "chainIdHex": testChainID}

		w := post(tt, server, AttestationPath, request)
		assert.Equal(tt, http.StatusBadRequest, w.Result().StatusCode)
		assert.Equal(tt, "No stamps provided", errorMessage(tt, w))
	})

	t.Run("Test Unknown Chain", func(tt *testing.T) {
		wallet := newWallet(tt)
		stamp := issueStamp(tt, server, wallet, "Simple")
		request := map[string]any{"credentials": []any{stamp}, "nonce": "7", "chainIdHex": "0x99"}

		w := post(tt, server, AttestationPath, request)
		assert.Equal(tt, http.StatusNotFound, w.Result().StatusCode)
		assert.Equal(tt, "No onchainInfo found for chainId 0x99", errorMessage(tt, w))
	})

	t.Run("Test Format Stamp Batch", func(tt *testing.T) {
		wallet := newWallet(tt)
		stamps := []any{
			issueStamp(tt, server, wallet, "Simple"),
			issueStamp(tt, server, wallet, "ClearTextSimple"),
		}
		// clients send the nonce as a bare JSON number
		request := map[string]any{"credentials": stamps, "nonce": 7, "chainIdHex": testChainID}

		w := post(tt, server, AttestationPath, request)
		assert.Equal(tt, http.StatusOK, w.Result().StatusCode)

		var resp attestationResponse
		err := json.NewDecoder(w.Body).Decode(&resp)
		assert.NoError(tt, err)

		require.Len(tt, resp.Passport.MultiAttestationRequest, 1)
		assert.Len(tt, resp.Passport.MultiAttestationRequest[0].Data, 2)
		assert.Equal(tt, "7", resp.Passport.Nonce)
		// $2 fee at the seeded $2000 token price
		assert.Equal(tt, "1000000000000000", resp.Passport.Fee)
		assert.Contains(tt, []uint8{27, 28}, resp.Signature.V)
		assert.Len(tt, resp.Signature.R, 66)
		assert.Len(tt, resp.Signature.S, 66)
		assert.Empty(tt, resp.InvalidCredentials)
	})

	t.Run("Test Tampered Credential", func(tt *testing.T) {
		wallet := newWallet(tt)
		stamp := issueStamp(tt, server, wallet, "Simple")
		stamp.CredentialSubject["provider"] = "Forged"
		request := map[string]any{"credentials": []any{stamp}, "nonce": "7", "chainIdHex": testChainID}

		w := post(tt, server, AttestationPath, request)
		assert.Equal(tt, http.StatusBadRequest, w.Result().StatusCode)

		var resp struct {
			Error struct {
				InvalidCredentials []credential.VerifiableCredential `json:"invalidCredentials"`
			} `json:"error"`
		}
		err := json.NewDecoder(w.Body).Decode(&resp)
		assert.NoError(tt, err)
		require.Len(tt, resp.Error.InvalidCredentials, 1)
		assert.Equal(tt, "Forged", resp.Error.InvalidCredentials[0].CredentialSubject.Provider())
	})

	t.Run("Test Format Passport Batch", func(tt *testing.T) {
		wallet := newWallet(tt)
		stamps := []any{
			issueStamp(tt, server, wallet, "Simple"),
			issueStamp(tt, server, wallet, "ClearTextSimple"),
		}
		request := map[string]any{
			"recipient":   walletAddress(wallet),
			"credentials": stamps,
			"nonce":       "8",
			"chainIdHex":  testChainID,
		}

		w := post(tt, server, PassportAttestationPath, request)
		assert.Equal(tt, http.StatusOK, w.Result().StatusCode)

		var resp attestationResponse
		err := json.NewDecoder(w.Body).Decode(&resp)
		assert.NoError(tt, err)

		// one request for the passport schema, one for the score schema
		require.Len(tt, resp.Passport.MultiAttestationRequest, 2)
		assert.Equal(tt, "8", resp.Passport.Nonce)
		assert.Equal(tt, "1000000000000000", resp.Passport.Fee)
	})

	t.Run("Test Wrong Recipient", func(tt *testing.T) {
		wallet := newWallet(tt)
		stamp := issueStamp(tt, server, wallet, "Simple")
		request := map[string]any{
			"recipient":   "0x1111111111111111111111111111111111111111",
			"credentials": []any{stamp},
			"nonce":       "8",
			"chainIdHex":  testChainID,
		}

		w := post(tt, server, PassportAttestationPath, request)
		assert.Equal(tt, http.StatusBadRequest, w.Result().StatusCode)
		assert.Equal(tt, "Every credential's id must be equivalent to that of the recipient", errorMessage(tt, w))
	})
}

// attestationResponse mirrors attestation.SignedBatch for decoding
type attestationResponse struct {
	Passport struct {
		MultiAttestationRequest []struct {
			Schema string `json:"schema"`
			Data   []struct {
				Recipient string `json:"recipient"`
				Data      string `json:"data"`
				Value     string `json:"value"`
			} `json:"data"`
		} `json:"multiAttestationRequest"`
		Nonce string `json:"nonce"`
		Fee   string `json:"fee"`
	} `json:"passport"`
	Signature struct {
		V uint8  `json:"v"`
		R string `json:"r"`
		S string `json:"s"`
	} `json:"signature"`
	InvalidCredentials []credential.VerifiableCredential `json:"invalidCredentials"`
}

// testIAMServer stands up the full server with a miniredis-backed price cache
// seeded with a fresh $2000 native token price.
func testIAMServer(t *testing.T) *IAMServer {
	t.Helper()

	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("nativeTokenPrice", "2000"))
	require.NoError(t, mr.Set("nativeTokenPriceLastUpdate", strconv.FormatInt(time.Now().UnixMilli(), 10)))

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Server.Environment = config.EnvironmentTest
	cfg.Services.PriceConfig.RedisAddress = mr.Addr()
	cfg.Services.PriceConfig.CacheTTL = 5 * time.Minute

	shutdown := make(chan os.Signal, 1)
	server, err := NewIAMServer(shutdown, *cfg)
	require.NoError(t, err)
	require.NotEmpty(t, server)
	return server
}

func post(t *testing.T, server *IAMServer, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "https://iam-service.com"+APIPrefix+path, newRequestValue(t, body))
	w := httptest.NewRecorder()
	server.Handler.ServeHTTP(w, req)
	return w
}

func newRequestValue(t *testing.T, data any) io.Reader {
	t.Helper()
	dataBytes, err := json.Marshal(data)
	require.NoError(t, err)
	require.NotEmpty(t, dataBytes)
	return bytes.NewReader(dataBytes)
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error string `json:"error"`
	}
	err := json.NewDecoder(w.Body).Decode(&resp)
	require.NoError(t, err)
	return resp.Error
}

func newWallet(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func walletAddress(key *ecdsa.PrivateKey) string {
	return ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
}

func testWalletAddress(t *testing.T) string {
	t.Helper()
	return walletAddress(newWallet(t))
}

func signText(t *testing.T, key *ecdsa.PrivateKey, text string) string {
	t.Helper()
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(text)), key)
	require.NoError(t, err)
	sig[ethcrypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

// requestChallenge asks the server for a challenge credential over HTTP
func requestChallenge(t *testing.T, server *IAMServer, address, stampType string) *credential.VerifiableCredential {
	t.Helper()
	request := router.ChallengeRequest{}
	request.Payload.Type = stampType
	request.Payload.Address = address

	w := post(t, server, ChallengePath, request)
	require.Equal(t, http.StatusOK, w.Result().StatusCode)

	var resp router.CredentialResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Credential)
	return resp.Credential
}

// signedVerifyRequest runs the challenge leg of the flow and signs the
// challenge text with the wallet key.
func signedVerifyRequest(t *testing.T, server *IAMServer, wallet *ecdsa.PrivateKey, stampType string) verification.VerifyRequest {
	t.Helper()
	address := walletAddress(wallet)
	challenge := requestChallenge(t, server, address, stampType)

	return verification.VerifyRequest{
		Challenge: challenge,
		Payload: credential.RequestPayload{
			Type:    stampType,
			Address: address,
			Proofs: map[string]string{
				"valid":     "true",
				"username":  "test-user",
				"signature": signText(t, wallet, challenge.CredentialSubject.Challenge()),
			},
		},
	}
}

// issueStamp runs the full challenge and verify flow and returns the issued
// stamp credential.
func issueStamp(t *testing.T, server *IAMServer, wallet *ecdsa.PrivateKey, stampType string) *credential.VerifiableCredential {
	t.Helper()
	request := signedVerifyRequest(t, server, wallet, stampType)

	w := post(t, server, VerifyPath, request)
	require.Equal(t, http.StatusOK, w.Result().StatusCode)

	var resp router.StampResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Credential)
	return resp.Credential
}
