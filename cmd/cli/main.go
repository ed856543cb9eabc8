// Command tsctl is an operator CLI for the timeslots service: it issues
// development tokens and calls booking methods.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	u "github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	grpcserver "github.com/and161185/timeslots/internal/server/grpc"
	"github.com/and161185/timeslots/internal/usercontext"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "timeslots")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "timeslots")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

// loadToken returns the stored token, or "" when none is stored. An expired token is an error.
func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || (!tf.ExpiresAt.IsZero() && time.Now().After(tf.ExpiresAt)) {
		return "", errors.New("stored token expired (run token again or logout)")
	}
	return tf.AccessToken, nil
}

func trackingPath() string { return filepath.Join(cfgDir(), "tracking_id") }

func saveTrackingID(id string) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	return os.WriteFile(trackingPath(), []byte(strings.TrimSpace(id)), 0o600)
}

func loadTrackingID() string {
	b, err := os.ReadFile(trackingPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

type dialConfig struct {
	addr       string
	caPath     string
	skipVerify bool
	plaintext  bool
	bearer     string
}

func dial(ctx context.Context, c dialConfig) (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	if !c.plaintext {
		var err error
		if creds, err = loadTLS(c.caPath, c.skipVerify); err != nil {
			return nil, err
		}
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if c.bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: c.bearer, secure: !c.plaintext}))
	}
	//nolint:staticcheck // DialContext is supported through 1.x; migrate when grpc.NewClient is stable
	return grpc.DialContext(ctx, c.addr, opts...)
}

// ---- token claims ----

// multiFlag collects a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }

func buildClaims(kind, sub, uinfin, mobile string, groups []string) (usercontext.Claims, error) {
	switch kind {
	case usercontext.KindAnonymous:
		if sub == "" {
			sub = u.Must(u.NewV4()).String()
		}
		return usercontext.AnonymousClaims(sub, mobile), nil
	case usercontext.KindCitizen, usercontext.KindAdmin, usercontext.KindAgency:
	default:
		return usercontext.Claims{}, fmt.Errorf("unknown kind %q", kind)
	}
	if _, err := u.FromString(sub); err != nil {
		return usercontext.Claims{}, fmt.Errorf("-sub must be a user uuid: %w", err)
	}
	for _, g := range groups {
		prefix, id, ok := strings.Cut(g, ":")
		if !ok {
			return usercontext.Claims{}, fmt.Errorf("group %q: want <prefix>:<uuid>", g)
		}
		switch prefix {
		case usercontext.GroupOrganisationAdmin, usercontext.GroupServiceAdmin, usercontext.GroupServiceProvider:
		default:
			return usercontext.Claims{}, fmt.Errorf("group %q: unknown prefix", g)
		}
		if _, err := u.FromString(id); err != nil {
			return usercontext.Claims{}, fmt.Errorf("group %q: %w", g, err)
		}
	}
	return usercontext.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: sub},
		Kind:             kind,
		UinFin:           uinfin,
		Groups:           groups,
		MobileNo:         mobile,
	}, nil
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func requestBody(inline, file string) (*structpb.Struct, error) {
	var raw []byte
	switch {
	case inline != "":
		raw = []byte(inline)
	case file != "":
		b, err := readAll(file)
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		raw = []byte("{}")
	}
	req := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, req); err != nil {
		return nil, fmt.Errorf("request must be a JSON object: %w", err)
	}
	return req, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `tsctl
Usage:
  tsctl -addr HOST:PORT [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  token   -key <hs256 key> -kind anonymous|citizen|admin|agency [-sub id] [-uinfin S..]
          [-group org-admin:<uuid>]... [-mobile +65..] [-ttl 1h] [-print]   (saves token)
  logout                                                (forgets token and tracking id)
  call    <Method> [-json '{...}' | -file f|-]          (Search, Create, Update, Cancel, Accept,
                                                         Reject, Reschedule, ChangeLogs, Services)
  health  [-service name]
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	// global flags
	addr := flag.String("addr", "localhost:8443", "server addr")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	skipVerify := flag.Bool("insecure", false, "skip cert verify (dev)")
	plaintext := flag.Bool("plaintext", false, "connect without TLS (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	dc := dialConfig{addr: *addr, caPath: *caPath, skipVerify: *skipVerify, plaintext: *plaintext}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {

	case "version":
		fmt.Printf("tsctl %s (%s)\n", version, buildDate)

	case "token":
		fs := flag.NewFlagSet("token", flag.ExitOnError)
		key := fs.String("key", os.Getenv("TIMESLOTS_JWT_KEY"), "HS256 signing key")
		kind := fs.String("kind", usercontext.KindCitizen, "token kind")
		sub := fs.String("sub", "", "user uuid (tracking id for anonymous)")
		uinfin := fs.String("uinfin", "", "citizen identifier")
		mobile := fs.String("mobile", "", "verified mobile number")
		ttl := fs.Duration("ttl", time.Hour, "token lifetime")
		printOnly := fs.Bool("print", false, "print without saving")
		var groups multiFlag
		fs.Var(&groups, "group", "group membership, repeatable")
		_ = fs.Parse(flag.Args()[1:])

		claims, err := buildClaims(*kind, *sub, *uinfin, *mobile, groups)
		if err != nil {
			fail(err)
		}
		tok, err := usercontext.NewTokenParser([]byte(*key)).Issue(claims, *ttl)
		if err != nil {
			fail(err)
		}
		if !*printOnly {
			if err := saveToken(tok, time.Now().Add(*ttl)); err != nil {
				fail(err)
			}
			if claims.Kind == usercontext.KindAnonymous {
				if err := saveTrackingID(claims.Subject); err != nil {
					fail(err)
				}
			}
		}
		fmt.Println(tok)

	case "logout":
		_ = os.Remove(tokenPath())
		_ = os.Remove(trackingPath())

	case "call":
		if flag.NArg() < 2 {
			usage()
		}
		method := flag.Arg(1)
		fs := flag.NewFlagSet("call", flag.ExitOnError)
		inline := fs.String("json", "", "request JSON object")
		file := fs.String("file", "", "request JSON file or - for stdin")
		_ = fs.Parse(flag.Args()[2:])

		req, err := requestBody(*inline, *file)
		if err != nil {
			fail(err)
		}
		if dc.bearer, err = loadToken(); err != nil {
			fail(err)
		}
		if t := loadTrackingID(); t != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, grpcserver.TrackingHeader, t)
		}

		cc, err := dial(ctx, dc)
		if err != nil {
			fail(err)
		}
		defer cc.Close()

		var hdr metadata.MD
		out := &structpb.Struct{}
		if err := cc.Invoke(ctx, "/"+grpcserver.BookingsServiceName+"/"+method, req, out, grpc.Header(&hdr)); err != nil {
			fail(err)
		}
		if v := hdr.Get(grpcserver.TrackingHeader); len(v) > 0 && loadTrackingID() == "" {
			_ = saveTrackingID(v[0])
		}
		printJSON(out.AsMap())

	case "health":
		fs := flag.NewFlagSet("health", flag.ExitOnError)
		svc := fs.String("service", "", "service name (empty for the server)")
		_ = fs.Parse(flag.Args()[1:])

		cc, err := dial(ctx, dc)
		if err != nil {
			fail(err)
		}
		defer cc.Close()

		resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{Service: *svc})
		if err != nil {
			fail(err)
		}
		fmt.Println(resp.GetStatus().String())

	default:
		usage()
	}
}

// ---- helpers ----

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
