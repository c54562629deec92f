package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Seednode/cinesort/games/cinesort"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "CINESORT"

type Config struct {
	adminPassword  string
	adminSecret    string
	adminTokenTTL  time.Duration
	adminUser      string
	bind           string
	db             string
	images         string
	maxAttempts    int
	port           int
	prefix         string
	profile        bool
	sessionTimeout time.Duration
	siteURL        string
	tlsCert        string
	tlsKey         string
	uploadTimeout  time.Duration
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.maxAttempts < 1 {
		return fmt.Errorf("invalid max attempts (must be at least 1): %d", c.maxAttempts)
	}
	if c.adminPassword != "" && len(c.adminSecret) < 32 {
		return errors.New("--admin-secret must be at least 32 characters when --admin-password is set")
	}
	if c.adminPassword != "" && c.adminTokenTTL <= 0 {
		return fmt.Errorf("invalid admin token lifetime: %s", c.adminTokenTTL)
	}
	if c.db == "" {
		return errors.New("--db must not be empty")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) adminEnabled() bool {
	return c.adminPassword != "" && c.adminSecret != ""
}

// bindEnv lets every flag in fs be set from CINESORT_<FLAG_NAME>.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "cinesort",
		Short:         "A daily movie scene sorting puzzle, with a scheduling screen for the operator.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	pfs := cmd.PersistentFlags()
	pfs.StringVar(&cfg.db, "db", "cinesort.db", "path to the puzzle database (env: CINESORT_DB)")
	pfs.StringVar(&cfg.images, "images", "images", "directory holding uploaded scene images (env: CINESORT_IMAGES)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: CINESORT_VERBOSE)")

	fs := cmd.Flags()
	fs.StringVar(&cfg.adminPassword, "admin-password", "", "password for the scheduling screen; empty disables it (env: CINESORT_ADMIN_PASSWORD)")
	fs.StringVar(&cfg.adminSecret, "admin-secret", "", "key used to sign admin sessions, at least 32 characters (env: CINESORT_ADMIN_SECRET)")
	fs.DurationVar(&cfg.adminTokenTTL, "admin-token-ttl", 12*time.Hour, "lifetime of an admin session (env: CINESORT_ADMIN_TOKEN_TTL)")
	fs.StringVar(&cfg.adminUser, "admin-user", "admin", "operator name recorded on created puzzles (env: CINESORT_ADMIN_USER)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: CINESORT_BIND)")
	fs.IntVar(&cfg.maxAttempts, "max-attempts", cinesort.MaxAttempts, "attempts allowed per puzzle (env: CINESORT_MAX_ATTEMPTS)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: CINESORT_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: CINESORT_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: CINESORT_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle play sessions are dropped (env: CINESORT_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.siteURL, "site-url", "", "public URL used in share text and QR codes (env: CINESORT_SITE_URL)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: CINESORT_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: CINESORT_TLS_KEY)")
	fs.DurationVar(&cfg.uploadTimeout, "upload-timeout", 30*time.Second, "time allowed to store each uploaded image (env: CINESORT_UPLOAD_TIMEOUT)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: CINESORT_VERSION)")

	bindEnv(v, pfs)
	bindEnv(v, fs)

	cmd.AddCommand(newScheduleCmd(cfg), newImportCmd(cfg))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("cinesort v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
