// cmd/preflight/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hamed0406/fcpenroll/internal/config"
	"github.com/hamed0406/fcpenroll/internal/enrollment"
	"github.com/hamed0406/fcpenroll/internal/probe"
)

func main() {
	failed := false
	fail := func(msg string) {
		fmt.Fprintln(os.Stderr, "✖", msg)
		failed = true
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	if err := config.LoadDotEnv(os.Getenv("ENV_FILE")); err != nil {
		fail(err.Error())
	}
	cfg := config.FromEnv()

	var missing *config.MissingConfigError
	if err := cfg.Validate(); errors.As(err, &missing) {
		fail(missing.Key + " is empty; the API cannot reach the cloud backend.")
	} else if err != nil {
		fail(err.Error())
	} else {
		ok("CLOUD_API_URL=" + cfg.CloudAPIURL)
		ok(fmt.Sprintf("poll every %s for up to %s", cfg.PollInterval, cfg.PollTimeout))
	}

	if len(cfg.AdminAPIKeys) == 0 {
		warn("ADMIN_API_KEYS is empty (admin routes are open).")
	}
	if len(cfg.PublicAPIKeys) == 0 {
		warn("PUBLIC_API_KEYS is empty (status routes are open).")
	}
	for name, v := range map[string]string{"ADMIN_API_KEYS": os.Getenv("ADMIN_API_KEYS"), "PUBLIC_API_KEYS": os.Getenv("PUBLIC_API_KEYS")} {
		if strings.Contains(v, " ") {
			warn(name + " contains spaces; use comma-separated with no spaces, e.g. key1,key2")
		}
	}

	ok("API_ADDR=" + cfg.Addr)

	if cfg.DatabaseURL == "" {
		warn("DATABASE_URL empty; confirmations and tracked errors are kept in memory only.")
	} else {
		ok("DATABASE_URL present")
	}

	if len(cfg.AllowedOrigins) == 0 {
		warn("ALLOWED_ORIGINS empty; any origin may call the API.")
	} else {
		ok("ALLOWED_ORIGINS=" + strings.Join(cfg.AllowedOrigins, ","))
	}

	if !cfg.FeatureFlags[enrollment.FlagProgramVisible] {
		warn(enrollment.FlagProgramVisible + " is off; every workspace reports showEnrollmentUi=false.")
	}

	if cfg.CloudAPIURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		dns := probe.CheckURLHost(ctx, cfg.CloudAPIURL)
		cancel()
		if dns.OK() {
			ips := make([]string, 0, len(dns.IPs))
			for _, ip := range dns.IPs {
				ips = append(ips, ip.String())
			}
			ok(fmt.Sprintf("%s resolves to %s", dns.Host, strings.Join(ips, ", ")))
		} else {
			fail(fmt.Sprintf("%s does not resolve (%s) %s", dns.Host, dns.Class, dns.ResolverError))
		}
	}

	if failed {
		os.Exit(1)
	}
	ok("preflight passed")
}
