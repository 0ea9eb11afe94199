package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alexferrari88/localize-assets/lib"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix namespaces the environment variables that mirror the flags.
const envPrefix = "LOCALIZE"

// Configuration validation errors.
var (
	ErrInvalidTimeout      = errors.New("invalid timeout: must be positive")
	ErrInvalidMaxRedirects = errors.New("invalid max redirects: must be non-negative")
	ErrInvalidRetries      = errors.New("invalid retries: must be non-negative")
	ErrInvalidRate         = errors.New("invalid rate: must be non-negative")
	ErrInvalidProxy        = errors.New("invalid proxy url")
	ErrEmptyAssetsDir      = errors.New("assets directory must not be empty")
)

// config holds the resolved options of a run.
type config struct {
	AssetsDir    string
	Site         string
	Base         string
	CDNPath      string
	UserAgent    string
	Proxy        string
	Timeout      time.Duration
	MaxRedirects int
	Retries      int
	Rate         float64
	Progress     bool
	Verbose      bool
}

func registerFlags(flags *pflag.FlagSet) {
	flags.String("assets-dir", lib.DefaultAssetsDir, "Directory assets are saved to, relative to the working directory")
	flags.String("site", "", "Site the page was saved from, sent as Referer (default: read from the document)")
	flags.String("base", "", "Base URL used to resolve relative references in the HTML")
	flags.String("cdn-path", lib.DefaultCDNPath, "Path prefix of the site's CDN for URLs embedded in scripts")
	flags.String("user-agent", lib.DefaultUserAgent, "User-Agent header sent with every request")
	flags.StringP("proxy", "x", "", "Specify the proxy url")
	flags.Duration("timeout", lib.DefaultTimeout, "Per-request timeout")
	flags.Int("max-redirects", lib.DefaultMaxRedirects, "Maximum redirects followed per asset")
	flags.Int("retries", 0, "Extra attempts for assets failing with network or server errors")
	flags.Float64P("rate", "r", 0, "Maximum requests per second (0 means unlimited)")
	flags.Bool("progress", false, "Show a progress bar")
	flags.BoolP("verbose", "v", false, "Enable verbose output")
}

// bindConfig makes every flag readable through v, with LOCALIZE_* environment
// variables as a fallback for flags not given on the command line.
func bindConfig(v *viper.Viper, flags *pflag.FlagSet) {
	_ = v.BindPFlags(flags)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func loadConfig(v *viper.Viper) (*config, error) {
	cfg := &config{
		AssetsDir:    strings.TrimSpace(v.GetString("assets-dir")),
		Site:         strings.TrimSpace(v.GetString("site")),
		Base:         strings.TrimSpace(v.GetString("base")),
		CDNPath:      v.GetString("cdn-path"),
		UserAgent:    v.GetString("user-agent"),
		Proxy:        strings.TrimSpace(v.GetString("proxy")),
		Timeout:      v.GetDuration("timeout"),
		MaxRedirects: v.GetInt("max-redirects"),
		Retries:      v.GetInt("retries"),
		Rate:         v.GetFloat64("rate"),
		Progress:     v.GetBool("progress"),
		Verbose:      v.GetBool("verbose"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *config) validate() error {
	switch {
	case c.AssetsDir == "":
		return ErrEmptyAssetsDir
	case c.Timeout <= 0:
		return ErrInvalidTimeout
	case c.MaxRedirects < 0:
		return ErrInvalidMaxRedirects
	case c.Retries < 0:
		return ErrInvalidRetries
	case c.Rate < 0:
		return ErrInvalidRate
	}
	if c.Proxy != "" {
		if _, err := parseURL(c.Proxy); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProxy, err)
		}
	}
	return nil
}

func (c *config) fetcherOptions() ([]lib.FetcherOption, error) {
	opts := []lib.FetcherOption{
		lib.WithTimeout(c.Timeout),
		lib.WithMaxRedirects(c.MaxRedirects),
		lib.WithMaxRetries(c.Retries),
		lib.WithRatePerSecond(c.Rate),
		lib.WithUserAgent(c.UserAgent),
	}
	if c.Proxy != "" {
		proxyURL, err := parseURL(c.Proxy)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProxy, err)
		}
		opts = append(opts, lib.WithProxyURL(proxyURL))
	}
	return opts, nil
}

// parseURL accepts only absolute URLs with a host.
func parseURL(toTest string) (*url.URL, error) {
	u, err := url.Parse(toTest)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute url", toTest)
	}
	return u, nil
}
