package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/georgepadayatti/pdfsign/internal/testpki"
	"github.com/georgepadayatti/pdfsign/sign/validation"
)

type fixture struct {
	dir      string
	keyStore string
	input    string
	root     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pki := testpki.New(t, testpki.LeafOptions{CommonName: "CLI Signer"})
	dir := t.TempDir()
	f := &fixture{
		dir:      dir,
		keyStore: pki.WritePKCS12(t, dir, "pw1", true),
		input:    filepath.Join(dir, "A.pdf"),
		root:     filepath.Join(dir, "root.pem"),
	}
	if err := os.WriteFile(f.input, testpki.MinimalPDF(t), 0o644); err != nil {
		t.Fatal(err)
	}
	testpki.WritePEM(t, f.root, pki.Root)
	return f
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"pdfsign"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunCommands(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
		out  string
	}{
		{"no command", nil, 1, ""},
		{"unknown command", []string{"frobnicate"}, 1, ""},
		{"help", []string{"help"}, 0, "Commands:"},
		{"version", []string{"version"}, 0, "pdfsign version"},
		{"sign without arguments", []string{"sign"}, 1, ""},
		{"sign help", []string{"sign", "-h"}, 0, ""},
		{"verify without arguments", []string{"verify"}, 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, _ := run(t, tt.args...)
			if code != tt.code {
				t.Errorf("exit code = %d, want %d", code, tt.code)
			}
			if !strings.Contains(stdout, tt.out) {
				t.Errorf("stdout %q does not contain %q", stdout, tt.out)
			}
		})
	}
}

func TestSignAndVerify(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.dir, "A-signed.pdf")

	code, stdout, stderr := run(t, "sign", "-verify", "-trust", f.root, "-reason", "Approved",
		f.keyStore, "pw1", f.input, out, "0", "50", "50", "200", "100")
	if code != 0 {
		t.Fatalf("sign exit code %d, stderr %s", code, stderr)
	}
	if !strings.Contains(stdout, `"status": "PASS"`) || !strings.Contains(stdout, "field Sig1") {
		t.Errorf("unexpected sign output %s", stdout)
	}

	code, stdout, stderr = run(t, "verify", "-trust", f.root, out, "Sig1")
	if code != 0 {
		t.Fatalf("verify exit code %d, stderr %s", code, stderr)
	}
	var res validation.VerificationResult
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("report is not JSON: %v\n%s", err, stdout)
	}
	if res.Status != validation.StatusPass || res.FieldName != "Sig1" || res.Reason != "Approved" {
		t.Errorf("unexpected report %+v", res)
	}
	if res.Signer == nil || res.Signer.CommonName != "CLI Signer" {
		t.Errorf("unexpected signer %+v", res.Signer)
	}
}

func TestSignTwiceAndVerifyAll(t *testing.T) {
	f := newFixture(t)
	first := filepath.Join(f.dir, "first.pdf")
	second := filepath.Join(f.dir, "second.pdf")
	t.Setenv("PDFSIGN_PASSPHRASE", "pw1")

	if code, _, stderr := run(t, "sign", f.keyStore, "-", f.input, first, "0", "50", "50", "200", "100"); code != 0 {
		t.Fatalf("first sign failed: %s", stderr)
	}
	if code, _, stderr := run(t, "sign", "-center", "-appearance", "text", f.keyStore, "-", first, second, "0", "300", "200", "0", "0"); code != 0 {
		t.Fatalf("second sign failed: %s", stderr)
	}

	code, stdout, stderr := run(t, "verify", "-trust", f.root, second)
	if code != 0 {
		t.Fatalf("verify exit code %d, stderr %s", code, stderr)
	}
	var results []validation.VerificationResult
	if err := json.Unmarshal([]byte(stdout), &results); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	if len(results) != 2 || results[0].FieldName != "Sig1" || results[1].FieldName != "Sig2" {
		t.Fatalf("unexpected results %+v", results)
	}
	if !results[0].ModifiedAfter {
		t.Error("Sig1 should report later modifications")
	}
}

func TestSignFailures(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		args []string
	}{
		{"bad passphrase", []string{"sign", f.keyStore, "wrong"}},
		{"missing key-store", []string{"sign", filepath.Join(f.dir, "none.p12"), "pw1"}},
		{"placeholder too small", []string{"sign", "-placeholder", "64", f.keyStore, "pw1"}},
		{"verify without trust", []string{"sign", "-verify", f.keyStore, "pw1"}},
		{"bad appearance", []string{"sign", "-appearance", "hologram", f.keyStore, "pw1"}},
		{"bad docmdp", []string{"sign", "-docmdp", "7", f.keyStore, "pw1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(f.dir, strings.ReplaceAll(tt.name, " ", "-")+".pdf")
			args := append(tt.args, f.input, out, "0", "50", "50", "200", "100")
			code, _, stderr := run(t, args...)
			if code != 1 {
				t.Errorf("exit code = %d, want 1", code)
			}
			if !strings.HasPrefix(stderr, "Error: ") {
				t.Errorf("stderr = %q", stderr)
			}
			if _, err := os.Stat(out); !os.IsNotExist(err) {
				t.Error("no output file may be left behind")
			}
		})
	}

	badArgs := [][]string{
		{"sign", f.keyStore, "pw1", f.input, filepath.Join(f.dir, "x.pdf"), "first", "50", "50", "200", "100"},
		{"sign", f.keyStore, "pw1", f.input, filepath.Join(f.dir, "x.pdf"), "0", "50", "fifty", "200", "100"},
		{"sign", f.keyStore, "pw1", f.input, filepath.Join(f.dir, "x.pdf"), "0", "200", "50", "50", "100"},
		{"sign", f.keyStore, "pw1", f.input, filepath.Join(f.dir, "x.pdf"), "4", "50", "50", "200", "100"},
	}
	for _, args := range badArgs {
		if code, _, _ := run(t, args...); code != 1 {
			t.Errorf("%v: exit code = %d, want 1", args, code)
		}
	}
}

func TestVerifyFailures(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.dir, "signed.pdf")
	if code, _, stderr := run(t, "sign", f.keyStore, "pw1", f.input, out, "0", "50", "50", "200", "100"); code != 0 {
		t.Fatalf("sign failed: %s", stderr)
	}

	t.Run("unsigned document", func(t *testing.T) {
		if code, _, _ := run(t, "verify", "-trust", f.root, f.input); code != 1 {
			t.Errorf("exit code = %d, want 1", code)
		}
	})
	t.Run("no trust anchors", func(t *testing.T) {
		t.Setenv("PDFSIGN_TRUST_ROOTS", "")
		if code, _, _ := run(t, "verify", out); code != 1 {
			t.Errorf("exit code = %d, want 1", code)
		}
	})
	t.Run("tampered", func(t *testing.T) {
		data, err := os.ReadFile(out)
		if err != nil {
			t.Fatal(err)
		}
		// The binary comment on the second header line is covered by the
		// signature but not parsed.
		data[10] ^= 0x01
		tampered := filepath.Join(f.dir, "tampered.pdf")
		if err := os.WriteFile(tampered, data, 0o644); err != nil {
			t.Fatal(err)
		}
		code, stdout, _ := run(t, "verify", "-trust", f.root, tampered, "Sig1")
		if code != 1 || !strings.Contains(stdout, `"status": "FAIL"`) {
			t.Errorf("exit code %d, report %s", code, stdout)
		}
	})
	t.Run("trust from environment", func(t *testing.T) {
		t.Setenv("PDFSIGN_TRUST_ROOTS", f.root)
		if code, _, stderr := run(t, "verify", out); code != 0 {
			t.Errorf("exit code = %d, stderr %s", code, stderr)
		}
	})
	t.Run("config profile", func(t *testing.T) {
		profile := filepath.Join(f.dir, "pdfsign.yaml")
		yaml := "validation:\n  trust-anchors: [" + f.root + "]\nlogging:\n  level: error\n"
		if err := os.WriteFile(profile, []byte(yaml), 0o644); err != nil {
			t.Fatal(err)
		}
		if code, _, stderr := run(t, "verify", "-config", profile, out, "Sig1"); code != 0 {
			t.Errorf("exit code = %d, stderr %s", code, stderr)
		}
	})
}
