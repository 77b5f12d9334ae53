package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/url"
	"os"
	"strings"
	"time"

	"bondvault/cmd/internal/passphrase"
	"bondvault/crypto"
	"bondvault/services/bondd/server"
)

const (
	defaultEndpoint = "http://127.0.0.1:7081"
	defaultPassEnv  = "BONDCTL_PASS"
	secretEnv       = "BONDD_JWT_SECRET"
	endpointEnv     = "BONDCTL_URL"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "bondctl:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) < 1 {
		usage(out)
		return errors.New("command required")
	}
	command, rest := args[0], args[1:]
	switch command {
	case "keygen":
		return runKeygen(rest, out)
	case "address":
		return runAddress(rest, out)
	case "token":
		return runToken(rest, out)
	case "quote":
		return runQuote(rest, out)
	case "record":
		return runRecord(rest, out)
	case "reserve":
		return runReserve(rest, out)
	case "vest":
		return runVest(rest, out)
	case "release":
		return runRelease(rest, out)
	case "admin":
		return runAdmin(rest, out)
	case "help", "-h", "--help":
		usage(out)
		return nil
	default:
		usage(out)
		return fmt.Errorf("unknown command %q", command)
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, `Usage: bondctl <command> [flags]

Commands:
  keygen   -out <path>                     create an encrypted signing key
  address  -keystore <path>                print the address of a key
  token    -subject <address> [-ttl 1h]    issue a bearer token (needs BONDD_JWT_SECRET)
  quote    -amount <n>                     preview the claim for a deposit
  record   -address <address>              show a vest record
  reserve                                  show custody holdings and solvency
  vest     -amount <n> -keystore <path>    deposit base currency
  release  -keystore <path>                collect a matured claim
  admin    <action> -keystore <path>       withdraw-base | soft-withdraw |
                                           emergency-withdraw | emergency-sweep |
                                           settings | pause | pool`)
}

// remoteFlags registers the endpoint and credential flags shared by every
// command that calls bondd.
type remoteFlags struct {
	endpoint *string
	keystore *string
	passEnv  *string
	token    *string
}

func addRemoteFlags(fs *flag.FlagSet, signing bool) remoteFlags {
	endpoint := os.Getenv(endpointEnv)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	rf := remoteFlags{endpoint: fs.String("url", endpoint, "bondd base URL")}
	if signing {
		rf.keystore = fs.String("keystore", "", "keystore used to sign the request")
		rf.passEnv = fs.String("pass-env", defaultPassEnv, "environment variable holding the keystore passphrase")
		rf.token = fs.String("token", os.Getenv("BONDCTL_TOKEN"), "bearer token used when no keystore is given")
	}
	return rf
}

func (rf remoteFlags) client() (*apiClient, error) {
	c := newAPIClient(*rf.endpoint)
	if rf.keystore == nil {
		return c, nil
	}
	if path := strings.TrimSpace(*rf.keystore); path != "" {
		key, err := loadKey(path, *rf.passEnv)
		if err != nil {
			return nil, err
		}
		c.key = key
		return c, nil
	}
	if token := strings.TrimSpace(*rf.token); token != "" {
		c.token = token
		return c, nil
	}
	return nil, errors.New("-keystore or -token required")
}

func loadKey(path, passEnv string) (*crypto.PrivateKey, error) {
	pass, err := passphrase.NewSource(passEnv, "keystore passphrase").Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("load keystore %s: %w", path, err)
	}
	return key, nil
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	path := fs.String("out", "bond.keystore", "output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "environment variable holding the keystore passphrase")
	force := fs.Bool("force", false, "overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(*path); err == nil && !*force {
		return fmt.Errorf("%s exists; pass -force to overwrite", *path)
	}
	pass, err := passphrase.NewSource(*passEnv, "keystore passphrase").Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*path, key, pass); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	addr := key.PubKey().Address()
	fmt.Fprintf(out, "keystore: %s\naddress:  %s\nhex:      %s\n", *path, addr.String(), addr.Hex())
	return nil
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	path := fs.String("keystore", "", "keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "environment variable holding the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*path) == "" {
		return errors.New("-keystore required")
	}
	key, err := loadKey(*path, *passEnv)
	if err != nil {
		return err
	}
	addr := key.PubKey().Address()
	fmt.Fprintf(out, "%s\n%s\n", addr.String(), addr.Hex())
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "", "address the token acts as")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	issuer := fs.String("issuer", "bondd", "token issuer")
	audience := fs.String("audience", "", "token audience")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := crypto.ParseAddress(*subject)
	if err != nil {
		return fmt.Errorf("-subject: %w", err)
	}
	secret, err := passphrase.NewSource(secretEnv, "jwt secret").Get()
	if err != nil {
		return err
	}
	token, err := server.IssueToken(secret, server.TokenClaims{
		Subject:  addr,
		Issuer:   *issuer,
		Audience: *audience,
		TTL:      *ttl,
	}, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runQuote(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("quote", flag.ContinueOnError)
	rf := addRemoteFlags(fs, false)
	amount := fs.String("amount", "", "base currency amount")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := parseAmount(*amount); err != nil {
		return err
	}
	c, _ := rf.client()
	resp, err := c.get("/v1/quote?amount=" + url.QueryEscape(strings.TrimSpace(*amount)))
	if err != nil {
		return err
	}
	return printJSON(out, resp)
}

func runRecord(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("record", flag.ContinueOnError)
	rf := addRemoteFlags(fs, false)
	address := fs.String("address", "", "depositor address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := crypto.ParseAddress(*address)
	if err != nil {
		return fmt.Errorf("-address: %w", err)
	}
	c, _ := rf.client()
	resp, err := c.get("/v1/records/" + addr.String())
	if err != nil {
		return err
	}
	return printJSON(out, resp)
}

func runReserve(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("reserve", flag.ContinueOnError)
	rf := addRemoteFlags(fs, false)
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, _ := rf.client()
	resp, err := c.get("/v1/reserve")
	if err != nil {
		return err
	}
	return printJSON(out, resp)
}

func runVest(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("vest", flag.ContinueOnError)
	rf := addRemoteFlags(fs, true)
	amount := fs.String("amount", "", "base currency amount to deposit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	value, err := parseAmount(*amount)
	if err != nil {
		return err
	}
	c, err := rf.client()
	if err != nil {
		return err
	}
	resp, err := c.post("/v1/vest", map[string]string{"amount": value.String()})
	if err != nil {
		return err
	}
	return printJSON(out, resp)
}

func runRelease(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("release", flag.ContinueOnError)
	rf := addRemoteFlags(fs, true)
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := rf.client()
	if err != nil {
		return err
	}
	resp, err := c.post("/v1/release", nil)
	if err != nil {
		return err
	}
	return printJSON(out, resp)
}

func runAdmin(args []string, out io.Writer) error {
	if len(args) < 1 {
		return errors.New("admin action required")
	}
	action, rest := args[0], args[1:]
	fs := flag.NewFlagSet("admin "+action, flag.ContinueOnError)
	rf := addRemoteFlags(fs, true)
	asset := fs.String("asset", "", "asset symbol for emergency-sweep")
	period := fs.Duration("period", 0, "new vest period for settings; zero leaves it unchanged")
	discount := fs.Int64("discount", -1, "new discount in basis points for settings; negative leaves it unchanged")
	reserve0 := fs.String("reserve0", "", "base reserve for pool")
	reserve1 := fs.String("reserve1", "", "reserve-asset reserve for pool")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	path, body, err := adminRequest(action, *asset, *period, *discount, *reserve0, *reserve1)
	if err != nil {
		return err
	}
	c, err := rf.client()
	if err != nil {
		return err
	}
	resp, err := c.post(path, body)
	if err != nil {
		return err
	}
	return printJSON(out, resp)
}

// adminRequest maps an admin action and its flags onto a route and payload.
func adminRequest(action, asset string, period time.Duration, discount int64, reserve0, reserve1 string) (string, any, error) {
	switch action {
	case "withdraw-base", "soft-withdraw", "emergency-withdraw", "pause":
		return "/v1/admin/" + action, nil, nil
	case "emergency-sweep":
		if strings.TrimSpace(asset) == "" {
			return "", nil, errors.New("-asset required")
		}
		return "/v1/admin/emergency-sweep", map[string]string{"asset": strings.TrimSpace(asset)}, nil
	case "settings":
		body := map[string]uint64{}
		if period < 0 || (period > 0 && period%time.Second != 0) {
			return "", nil, errors.New("-period must be a whole number of seconds")
		}
		if period > 0 {
			body["vest_period_seconds"] = uint64(period / time.Second)
		}
		if discount >= 0 {
			body["discount_bps"] = uint64(discount)
		}
		if len(body) == 0 {
			return "", nil, errors.New("-period or -discount required")
		}
		return "/v1/admin/settings", body, nil
	case "pool":
		r0, err := parseNonNegative(reserve0)
		if err != nil {
			return "", nil, fmt.Errorf("-reserve0: %w", err)
		}
		r1, err := parseNonNegative(reserve1)
		if err != nil {
			return "", nil, fmt.Errorf("-reserve1: %w", err)
		}
		return "/v1/admin/pool", map[string]string{"reserve0": r0.String(), "reserve1": r1.String()}, nil
	default:
		return "", nil, fmt.Errorf("unknown admin action %q", action)
	}
}

func parseAmount(raw string) (*big.Int, error) {
	value, err := parseNonNegative(raw)
	if err != nil {
		return nil, err
	}
	if value.Sign() == 0 {
		return nil, errors.New("amount must be positive")
	}
	return value, nil
}

func parseNonNegative(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return value, nil
}

func printJSON(out io.Writer, value any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
