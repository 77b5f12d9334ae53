package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"bondvault/crypto"
	"bondvault/native/bank"
	"bondvault/native/bond"
	nativecommon "bondvault/native/common"
	"bondvault/services/bondd/pool"
	bondstorage "bondvault/services/bondd/storage"
	bondstate "bondvault/state/bond"
	"bondvault/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	server  *httptest.Server
	engine  *bond.Engine
	ledger  *bank.Ledger
	custody crypto.Address
	owner   *crypto.PrivateKey
	user    *crypto.PrivateKey
	now     atomic.Int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := storage.NewMemDB()
	ledger, err := bank.NewLedger(db)
	require.NoError(t, err)
	base, err := ledger.Register("NHB")
	require.NoError(t, err)
	reserve, err := ledger.Register("ZNHB")
	require.NoError(t, err)

	owner, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	user, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	var custody crypto.Address
	custody[0] = 0xC0

	require.NoError(t, base.Mint(user.PubKey().Address(), big.NewInt(10_000)))
	require.NoError(t, reserve.Mint(custody, big.NewInt(1_000)))

	engine, err := bond.NewEngine(bond.Config{
		Custody:  custody,
		Settings: bond.Settings{VestPeriod: time.Hour, DiscountBps: 1000},
	})
	require.NoError(t, err)
	store := bondstate.NewStore(db)
	static, err := pool.NewStatic(big.NewInt(1_000_000), big.NewInt(1_000_000))
	require.NoError(t, err)

	dsn, err := bondstorage.FileDSN(filepath.Join(t.TempDir(), "journal.sqlite"))
	require.NoError(t, err)
	journal, err := bondstorage.Open(dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	env := &testEnv{engine: engine, ledger: ledger, custody: custody, owner: owner, user: user}
	env.now.Store(1_700_000_000)
	engine.SetState(store)
	engine.SetAssets(base, reserve)
	engine.SetAssetRegistry(ledger)
	engine.SetPoolReader(static)
	engine.SetOwnerView(nativecommon.NewSingleOwner(owner.PubKey().Address()))
	engine.SetPauses(store)
	engine.SetEmitter(journal)
	engine.SetNowFunc(func() int64 { return env.now.Load() })

	srv, err := New(Config{Auth: AuthConfig{JWTSecret: testSecret, Issuer: "bondd"}}, engine, journal, static, nil)
	require.NoError(t, err)
	env.server = httptest.NewServer(srv.Handler())
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) signed(t *testing.T, key *crypto.PrivateKey, method, path string, body any) *http.Response {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, e.server.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	require.NoError(t, SignRequest(req, key, raw, time.Now()))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestQuoteEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp := env.get(t, "/v1/quote?amount=1000")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "900", decode(t, resp)["reward"])

	resp = env.get(t, "/v1/quote?amount=-5")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVestAndReleaseOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	userAddr := env.user.PubKey().Address()

	resp := env.signed(t, env.user, http.MethodPost, "/v1/vest", map[string]string{"amount": "100"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	require.Equal(t, "90", body["balance"])
	require.Equal(t, userAddr.String(), body["owner"])

	resp = env.get(t, "/v1/records/"+userAddr.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "90", decode(t, resp)["balance"])

	resp = env.signed(t, env.user, http.MethodPost, "/v1/release", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "validation", decode(t, resp)["error"])

	env.now.Add(3600)
	resp = env.signed(t, env.user, http.MethodPost, "/v1/release", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "90", decode(t, resp)["amount"])

	resp = env.get(t, "/v1/reserve")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reserve := decode(t, resp)
	require.Equal(t, "910", reserve["reserve_holdings"])
	require.Equal(t, "0", reserve["total_eligible"])
	require.Equal(t, "100", reserve["base_holdings"])

	resp = env.get(t, "/v1/events?type=bond.withdraw")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode(t, resp)["events"].([]any)
	require.Len(t, events, 1)

	id := events[0].(map[string]any)["id"].(string)
	resp = env.get(t, "/v1/events/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	single := decode(t, resp)
	require.Equal(t, true, single["verified"])
	require.Equal(t, id, single["event"].(map[string]any)["id"])
	require.Equal(t, "bond.withdraw", single["event"].(map[string]any)["type"])

	resp = env.get(t, "/v1/events/does-not-exist")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBearerTokenIdentity(t *testing.T) {
	env := newTestEnv(t)
	token, err := IssueToken(testSecret, TokenClaims{Subject: env.user.PubKey().Address(), Issuer: "bondd", TTL: time.Minute}, time.Now())
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/v1/vest", bytes.NewBufferString(`{"amount":"50"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "45", decode(t, resp)["balance"])

	wrongIssuer, err := IssueToken(testSecret, TokenClaims{Subject: env.user.PubKey().Address(), Issuer: "other"}, time.Now())
	require.NoError(t, err)
	req, _ = http.NewRequest(http.MethodPost, env.server.URL+"/v1/vest", bytes.NewBufferString(`{"amount":"50"}`))
	req.Header.Set("Authorization", "Bearer "+wrongIssuer)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestUnauthenticatedAndReplayedRequests(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Post(env.server.URL+"/v1/vest", "application/json", bytes.NewBufferString(`{"amount":"1"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	raw := []byte(`{"amount":"10"}`)
	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/v1/vest", bytes.NewReader(raw))
	require.NoError(t, err)
	require.NoError(t, SignRequest(req, env.user, raw, time.Now()))
	replay, err := http.NewRequest(http.MethodPost, env.server.URL+"/v1/vest", bytes.NewReader(raw))
	require.NoError(t, err)
	replay.Header = req.Header.Clone()

	first, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)
	second, err := http.DefaultClient.Do(replay)
	require.NoError(t, err)
	second.Body.Close()
	require.Equal(t, http.StatusUnauthorized, second.StatusCode)

	// A signature over a different body does not authenticate this one.
	tampered, err := http.NewRequest(http.MethodPost, env.server.URL+"/v1/vest", bytes.NewReader([]byte(`{"amount":"99"}`)))
	require.NoError(t, err)
	require.NoError(t, SignRequest(tampered, env.user, raw, time.Now().Add(time.Second)))
	third, err := http.DefaultClient.Do(tampered)
	require.NoError(t, err)
	defer third.Body.Close()
	require.NotEqual(t, http.StatusOK, third.StatusCode)
}

// malleate returns the high-S twin of a canonical signature: S' = N - S with
// the recovery bit flipped. Both recover the same signer.
func malleate(sig []byte) []byte {
	n := ethcrypto.S256().Params().N
	s := new(big.Int).Sub(n, new(big.Int).SetBytes(sig[32:64]))
	out := append([]byte(nil), sig...)
	s.FillBytes(out[32:64])
	out[64] ^= 1
	return out
}

func TestMalleatedSignatureIsNotReplayable(t *testing.T) {
	env := newTestEnv(t)
	raw := []byte(`{"amount":"10"}`)
	now := time.Now()
	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/v1/vest", bytes.NewReader(raw))
	require.NoError(t, err)
	require.NoError(t, SignRequest(req, env.user, raw, now))

	sig, err := hex.DecodeString(req.Header.Get(HeaderSignature))
	require.NoError(t, err)
	twin := malleate(sig)
	digest := ethcrypto.Keccak256(SignaturePayload(http.MethodPost, "/v1/vest", now.Unix(), raw))
	pub, err := ethcrypto.SigToPub(digest, twin)
	require.NoError(t, err)
	require.Equal(t, env.user.PubKey().Address().Bytes(), ethcrypto.PubkeyToAddress(*pub).Bytes())

	first, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	replay, err := http.NewRequest(http.MethodPost, env.server.URL+"/v1/vest", bytes.NewReader(raw))
	require.NoError(t, err)
	replay.Header = req.Header.Clone()
	replay.Header.Set(HeaderSignature, hex.EncodeToString(twin))
	second, err := http.DefaultClient.Do(replay)
	require.NoError(t, err)
	second.Body.Close()
	require.Equal(t, http.StatusUnauthorized, second.StatusCode)

	base, err := env.ledger.Token("NHB")
	require.NoError(t, err)
	balance, err := base.BalanceOf(context.Background(), env.user.PubKey().Address())
	require.NoError(t, err)
	require.Equal(t, "9990", balance.String())
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)
	resp := env.signed(t, env.user, http.MethodPost, "/v1/admin/pause", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.signed(t, env.owner, http.MethodPost, "/v1/admin/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, decode(t, resp)["paused"])

	resp = env.signed(t, env.user, http.MethodPost, "/v1/vest", map[string]string{"amount": "100"})
	require.Equal(t, http.StatusLocked, resp.StatusCode)

	resp = env.signed(t, env.owner, http.MethodPost, "/v1/admin/pause", nil)
	require.Equal(t, false, decode(t, resp)["paused"])

	resp = env.signed(t, env.owner, http.MethodPost, "/v1/admin/settings", map[string]uint64{"discount_bps": 10_001})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = env.signed(t, env.owner, http.MethodPost, "/v1/admin/settings", map[string]uint64{"discount_bps": 2_000})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	settings := decode(t, resp)
	require.EqualValues(t, 2_000, settings["discount_bps"])
	require.EqualValues(t, 3_600, settings["vest_period_seconds"])

	resp = env.signed(t, env.user, http.MethodPost, "/v1/vest", map[string]string{"amount": "5000"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "insufficient_reserve", decode(t, resp)["error"])

	resp = env.signed(t, env.user, http.MethodPost, "/v1/vest", map[string]string{"amount": "100"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.signed(t, env.owner, http.MethodPost, "/v1/admin/soft-withdraw", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "920", decode(t, resp)["amount"])

	resp = env.signed(t, env.owner, http.MethodPost, "/v1/admin/emergency-withdraw", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	drained := decode(t, resp)
	require.Equal(t, "100", drained["base"])
	require.Equal(t, "80", drained["reserve"])

	env.now.Add(3600)
	resp = env.signed(t, env.user, http.MethodPost, "/v1/release", nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	resp = env.get(t, "/v1/records/"+env.user.PubKey().Address().String())
	require.Equal(t, "80", decode(t, resp)["balance"])
}

func TestEmergencySweepAndPoolOverride(t *testing.T) {
	env := newTestEnv(t)
	stray, err := env.ledger.Register("USDC")
	require.NoError(t, err)
	require.NoError(t, stray.Mint(env.custody, big.NewInt(33)))

	resp := env.signed(t, env.owner, http.MethodPost, "/v1/admin/emergency-sweep", map[string]string{"asset": "USDC"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "33", decode(t, resp)["amount"])

	resp = env.signed(t, env.owner, http.MethodPost, "/v1/admin/emergency-sweep", map[string]string{"asset": "ZNHB"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.signed(t, env.owner, http.MethodPost, "/v1/admin/pool", map[string]string{"reserve0": "0", "reserve1": "10"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.get(t, "/v1/quote?amount=10")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "arithmetic", decode(t, resp)["error"])

	resp = env.signed(t, env.user, http.MethodPost, "/v1/admin/pool", map[string]string{"reserve0": "1", "reserve1": "1"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	resp := env.get(t, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", decode(t, resp)["status"])

	resp = env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), "go_goroutines")
}

func TestStatusMapping(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, statusFor(bond.ErrValidation))
	require.Equal(t, http.StatusConflict, statusFor(bond.ErrInsufficientReserve))
	require.Equal(t, http.StatusConflict, statusFor(bond.ErrArithmetic))
	require.Equal(t, http.StatusBadGateway, statusFor(bond.ErrTransferFailed))
	require.Equal(t, http.StatusForbidden, statusFor(bond.ErrAccessDenied))
	require.Equal(t, http.StatusLocked, statusFor(bond.ErrPaused))
	require.Equal(t, http.StatusInternalServerError, statusFor(context.Canceled))
}
