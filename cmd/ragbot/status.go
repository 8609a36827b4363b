package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/propakistanidev/WA-RAG-BOT/internal/config"
	"github.com/propakistanidev/WA-RAG-BOT/internal/provider"
)

// checks tallies the outcome of status checks.
type checks struct {
	passed, warned, failed int
}

func (c *checks) pass(check, detail string) {
	c.passed++
	fmt.Printf("  [PASS] %-22s %s\n", check, detail)
}

func (c *checks) fail(check, detail string) {
	c.failed++
	fmt.Printf("  [FAIL] %-22s %s\n", check, detail)
}

func (c *checks) warn(check, detail string) {
	c.warned++
	fmt.Printf("  [WARN] %-22s %s\n", check, detail)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check config, index, embedder and completion provider health",
		Long: `Verifies that the configuration loads, the embedder and vector index
answer a test query, lists record counts per namespace, and checks that at
least one completion provider is reachable.
Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("ragbot status v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var c checks
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err != nil {
				c.warn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
			} else {
				c.pass("Config file", cfgPath)
			}

			cfg, err := loadConfig()
			if err != nil {
				c.fail("Config validation", err.Error())
				return summarize(c)
			}
			c.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			a, err := newApp(cfg)
			if err != nil {
				c.fail("Knowledge base", err.Error())
			} else {
				defer a.Close()
				c.pass("Embedder", fmt.Sprintf("%s (%d dims)", a.embedder.ModelName(), a.embedder.Dimensions()))
				if err := a.engine.Health(ctx); err != nil {
					c.fail("Vector index", err.Error())
				} else {
					c.pass("Vector index", cfg.Index.Backend)
					checkNamespaces(ctx, &c, a)
				}
			}

			checkProviders(ctx, &c, cfg)

			wa := cfg.Channels.WhatsApp
			switch {
			case !wa.Enabled:
				c.warn("WhatsApp", "disabled")
			case wa.AppSecret == "":
				c.warn("WhatsApp", "no appSecret; webhook signatures are not verified")
			default:
				c.pass("WhatsApp", "phone number "+wa.PhoneNumberID)
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				c.warn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
			} else {
				c.pass("Server port", fmt.Sprintf(":%d available", cfg.Server.Port))
			}

			return summarize(c)
		},
	}
}

// checkNamespaces reports the record count of every namespace. An empty
// namespace is a warning: questions against it always get the fallback reply.
func checkNamespaces(ctx context.Context, c *checks, a *app) {
	stats, err := a.engine.Stats(ctx)
	if err != nil {
		c.warn("Namespaces", err.Error())
		return
	}
	for _, ns := range stats {
		if ns.Records == 0 {
			c.warn("Namespace: "+ns.Namespace, "empty; ingest documents first")
			continue
		}
		c.pass("Namespace: "+ns.Namespace, fmt.Sprintf("%d records", ns.Records))
	}
}

func checkProviders(ctx context.Context, c *checks, cfg *config.Config) {
	factory := provider.NewFactory(cfg, logger)
	names := make([]string, 0, len(cfg.Providers))
	for name, p := range cfg.Providers {
		if p.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		c.fail("Providers", "no providers enabled")
		return
	}
	for _, name := range names {
		p, err := factory.Get(name)
		if err != nil {
			c.fail("Provider: "+name, err.Error())
			continue
		}
		if err := p.Healthy(ctx); err != nil {
			c.warn("Provider: "+name, err.Error())
			continue
		}
		c.pass("Provider: "+name, "reachable")
	}
	if factory.HealthyProvider(ctx) == nil {
		c.fail("Completion", "no healthy provider; questions will get the error reply")
	}
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	return ln.Close()
}

func summarize(c checks) error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", c.passed, c.warned, c.failed)
	if c.failed > 0 {
		return fmt.Errorf("%d check(s) failed", c.failed)
	}
	return nil
}
