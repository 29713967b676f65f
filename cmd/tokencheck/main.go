// tokencheck проверяет токен ключом из конфигурации сервиса и печатает результат в JSON.
//
//	tokencheck --config ./configs --token eyJ...
//	echo eyJ... | tokencheck --token -
//	tokencheck --hash 's3cret'   # bcrypt хэш для заведения пользователя
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/xela07ax/spaceai-authgate/internal/infra"
	"github.com/xela07ax/spaceai-authgate/internal/infra/auth"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type report struct {
	Status    string         `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Claims    map[string]any `json:"claims,omitempty"`
}

func main() {
	var (
		configDir = pflag.StringP("config", "c", "", "directory with config.yaml (default: . and ./configs)")
		token     = pflag.StringP("token", "t", "", "token to verify, '-' reads it from stdin")
		hash      = pflag.String("hash", "", "print bcrypt hash of the given password and exit")
		verbose   = pflag.BoolP("verbose", "v", false, "log verification failures with details")
	)
	pflag.Parse()

	os.Exit(run(*configDir, *token, *hash, *verbose, os.Stdin, os.Stdout, os.Stderr))
}

func run(configDir, token, hash string, verbose bool, stdin io.Reader, stdout, stderr io.Writer) int {
	var paths []string
	if configDir != "" {
		paths = append(paths, configDir)
	}
	cfg, err := infra.NewConfigSource(paths...).Load()
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 2
	}

	if hash != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(hash), cfg.Auth.BcryptCost)
		if err != nil {
			fmt.Fprintln(stderr, "bcrypt:", err)
			return 2
		}
		fmt.Fprintln(stdout, string(h))
		return 0
	}

	if token == "-" {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			fmt.Fprintln(stderr, "stdin:", err)
			return 2
		}
		token = line
	}
	token = auth.BearerToken(token)
	if token == "" {
		fmt.Fprintln(stderr, "token is required (--token)")
		return 2
	}

	logger := zap.NewNop()
	if verbose {
		cfg.Auth.PrintJWTExceptionTrace = true
		cfg.Logger.Format = "console"
		cfg.Logger.Level = "debug"
		if logger, err = infra.NewLogger(cfg.Logger); err != nil {
			fmt.Fprintln(stderr, "logger:", err)
			return 2
		}
		defer logger.Sync()
	}

	svcCfg, err := cfg.Auth.ServiceConfig()
	if err != nil {
		fmt.Fprintln(stderr, "auth config:", err)
		return 2
	}
	svc, err := auth.NewService(svcCfg, logger)
	if err != nil {
		fmt.Fprintln(stderr, "jwt service:", err)
		return 2
	}

	out := svc.Verify(strings.TrimSpace(token))
	rep := report{Status: out.Status.String(), Reason: out.Reason}
	if out.Claims != nil {
		rep.Subject = out.Claims.Subject()
		rep.Claims = out.Claims.Map()
		if exp := out.Claims.ExpiresAt(); !exp.IsZero() {
			rep.ExpiresAt = &exp
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		fmt.Fprintln(stderr, "encode:", err)
		return 2
	}
	if !out.Valid() {
		return 1
	}
	return 0
}
