package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	u "github.com/gofrs/uuid/v5"

	"github.com/and161185/timeslots/internal/usercontext"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "timeslots")
}

func Test_cfgDir_And_Paths(t *testing.T) {
	_ = withTmpConfig(t)
	got := cfgDir()
	base := os.Getenv("XDG_CONFIG_HOME") + "/timeslots"
	if got != base {
		t.Fatalf("cfgDir=%q, want %q", got, base)
	}
	if !strings.HasPrefix(tokenPath(), base) || !strings.HasSuffix(tokenPath(), "token.json") {
		t.Fatalf("tokenPath unexpected: %s", tokenPath())
	}
	if !strings.HasPrefix(trackingPath(), base) || !strings.HasSuffix(trackingPath(), "tracking_id") {
		t.Fatalf("trackingPath unexpected: %s", trackingPath())
	}
}

func Test_token_SaveLoad(t *testing.T) {
	_ = withTmpConfig(t)

	if tok, err := loadToken(); err != nil || tok != "" {
		t.Fatalf("missing token file should mean anonymous: tok=%q err=%v", tok, err)
	}
	if err := saveToken("tok", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	tok, err := loadToken()
	if err != nil || tok != "tok" {
		t.Fatalf("loadToken: tok=%q err=%v", tok, err)
	}
	if err := saveToken("tok2", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("saveToken expired: %v", err)
	}
	if _, err := loadToken(); err == nil {
		t.Fatalf("want error for expired token")
	}
}

func Test_trackingID_SaveLoad(t *testing.T) {
	base := withTmpConfig(t)

	if got := loadTrackingID(); got != "" {
		t.Fatalf("expected empty tracking id, got %q", got)
	}
	if err := saveTrackingID("track-1\n"); err != nil {
		t.Fatalf("saveTrackingID: %v", err)
	}
	if got := loadTrackingID(); got != "track-1" {
		t.Fatalf("loadTrackingID: %q", got)
	}
	if _, err := os.Stat(filepath.Join(base, "tracking_id")); err != nil {
		t.Fatalf("tracking_id file missing: %v", err)
	}
}

func Test_buildClaims(t *testing.T) {
	t.Parallel()

	id := u.Must(u.NewV4())
	org := u.Must(u.NewV4())

	c, err := buildClaims(usercontext.KindAdmin, id.String(), "", "", []string{"org-admin:" + org.String()})
	if err != nil {
		t.Fatalf("admin claims: %v", err)
	}
	if c.Subject != id.String() || len(c.Groups) != 1 || c.Kind != usercontext.KindAdmin {
		t.Fatalf("admin claims mismatch: %+v", c)
	}

	anon, err := buildClaims(usercontext.KindAnonymous, "", "", "+6581234567", nil)
	if err != nil || anon.Subject == "" || anon.MobileNo != "+6581234567" {
		t.Fatalf("anonymous claims: %+v %v", anon, err)
	}

	bad := []struct {
		kind, sub string
		groups    []string
	}{
		{"robot", id.String(), nil},
		{usercontext.KindCitizen, "not-a-uuid", nil},
		{usercontext.KindAdmin, id.String(), []string{"org-admin"}},
		{usercontext.KindAdmin, id.String(), []string{"root:" + org.String()}},
		{usercontext.KindAdmin, id.String(), []string{"service-admin:xyz"}},
	}
	for _, b := range bad {
		if _, err := buildClaims(b.kind, b.sub, "", "", b.groups); err == nil {
			t.Fatalf("want error for %+v", b)
		}
	}
}

func Test_buildClaims_IssuedTokenParses(t *testing.T) {
	t.Parallel()

	key := []byte("k")
	id := u.Must(u.NewV4())
	c, err := buildClaims(usercontext.KindCitizen, id.String(), "S1234567D", "", nil)
	if err != nil {
		t.Fatalf("claims: %v", err)
	}
	p := usercontext.NewTokenParser(key)
	tok, err := p.Issue(c, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := p.Parse(tok)
	if err != nil || got.UinFin != "S1234567D" || got.Subject != id.String() {
		t.Fatalf("parse: %+v %v", got, err)
	}
}

func Test_multiFlag(t *testing.T) {
	t.Parallel()

	var m multiFlag
	_ = m.Set("a")
	_ = m.Set("b")
	if m.String() != "a,b" || len(m) != 2 {
		t.Fatalf("multiFlag mismatch: %v", m)
	}
}

func Test_requestBody(t *testing.T) {
	t.Parallel()

	req, err := requestBody(`{"id":"x","limit":3}`, "")
	if err != nil || req.GetFields()["id"].GetStringValue() != "x" {
		t.Fatalf("inline body: %v %v", req, err)
	}
	req, err = requestBody("", "")
	if err != nil || len(req.GetFields()) != 0 {
		t.Fatalf("default body must be empty object: %v %v", req, err)
	}
	if _, err := requestBody(`[1,2]`, ""); err == nil {
		t.Fatalf("non-object must fail")
	}

	tmp := filepath.Join(t.TempDir(), "req.json")
	_ = os.WriteFile(tmp, []byte(`{"serviceId":"s"}`), 0o600)
	req, err = requestBody("", tmp)
	if err != nil || req.GetFields()["serviceId"].GetStringValue() != "s" {
		t.Fatalf("file body: %v %v", req, err)
	}
}

func Test_readAll_File_And_Stdin(t *testing.T) {
	// file path
	tmp := filepath.Join(t.TempDir(), "f.txt")
	_ = os.WriteFile(tmp, []byte("hello"), 0o600)
	b, err := readAll(tmp)
	if err != nil || string(b) != "hello" {
		t.Fatalf("readAll(file): %q %v", b, err)
	}

	// stdin
	r, w, _ := os.Pipe()
	old := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = old }()
	go func() { _, _ = io.WriteString(w, "from-stdin"); _ = w.Close() }()
	b, err = readAll("-")
	if err != nil || string(b) != "from-stdin" {
		t.Fatalf("readAll(stdin): %q %v", b, err)
	}
}

func Test_printJSON_WritesPretty(t *testing.T) {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() { os.Stdout = old }()

	printJSON(map[string]any{"a": 1})
	_ = w.Close()
	out, _ := io.ReadAll(r)

	var m map[string]any
	if json.Unmarshal(out, &m) != nil || m["a"] != float64(1) {
		t.Fatalf("printJSON produced invalid json: %s", string(out))
	}
	if !bytes.Contains(out, []byte("\n")) {
		t.Fatalf("printJSON should indent")
	}
}

func Test_bearerCreds_Metadata(t *testing.T) {
	t.Parallel()

	b := bearerCreds{token: "T", secure: true}
	md, err := b.GetRequestMetadata(context.Background())
	if err != nil {
		t.Fatalf("GetRequestMetadata: %v", err)
	}
	if md["authorization"] != "Bearer T" {
		t.Fatalf("auth header mismatch: %v", md)
	}
	if !b.RequireTransportSecurity() {
		t.Fatalf("bearerCreds over TLS must require it")
	}
	if (bearerCreds{token: "T"}).RequireTransportSecurity() {
		t.Fatalf("plaintext dev mode must not require TLS")
	}
}

func Test_loadTLS_Variants(t *testing.T) {
	t.Parallel()

	creds, err := loadTLS("", true)
	if err != nil || creds == nil {
		t.Fatalf("insecure: %v %v", creds, err)
	}

	creds, err = loadTLS("", false)
	if err != nil || creds == nil {
		t.Fatalf("default tls: %v %v", creds, err)
	}

	tmp := filepath.Join(t.TempDir(), "bad.pem")
	_ = os.WriteFile(tmp, []byte("not pem"), 0o600)
	creds, err = loadTLS(tmp, false)
	if err == nil || creds != nil {
		t.Fatalf("bad CA should error, got creds=%v err=%v", creds, err)
	}
}
