package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"salon/internal/catalog"
	"salon/internal/checkout"
	"salon/internal/events"
	"salon/internal/logging"
	"salon/internal/metrics"
	"salon/internal/model"
	"salon/internal/orderlog"
	"salon/internal/reconcile"
	"salon/internal/remote"
	"salon/internal/server"
	"salon/internal/state"
)

// Config holds CLI flags for basketctl. Every flag can be preset with SALON_<FLAG>.
type Config struct {
	Remote        string // empty: local-only mode
	RemoteTimeout time.Duration
	Session       string
	LocalBackend  string // pebble|badger|file
	DataDir       string
	Catalog       string
	FallbackLog   string
	PhonePattern  string
	KafkaBrokers  string
	EventsTopic   string
	JWTSecret     string
	LogLevel      string
}

const usage = `usage: basketctl [flags] <command> [args]

commands:
  show
  add <id> <product|service>
  set <id> <product|service> <qty>
  remove <id> <product|service>
  clear
  submit <name> <phone> <whatsapp|sms|call>
  replay
  token [subject]
`

func main() {
	cfg := readFlags()
	if flag.NArg() == 0 {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
		os.Exit(2)
	}
	if err := run(cfg, flag.Args()); err != nil {
		log.Fatalf("basketctl: %v", err)
	}
}

func env(name, def string) string {
	if v := os.Getenv("SALON_" + name); v != "" {
		return v
	}
	return def
}

func readFlags() Config {
	var cfg Config
	timeout, err := time.ParseDuration(env("REMOTE_TIMEOUT", ""))
	if err != nil {
		timeout = remote.DefaultTimeout
	}
	flag.StringVar(&cfg.Remote, "remote", env("REMOTE", ""), "basketd base URL (empty: local only)")
	flag.DurationVar(&cfg.RemoteTimeout, "remote-timeout", timeout, "timeout per remote call")
	flag.StringVar(&cfg.Session, "session", env("SESSION", ""), "basket session id (empty: the one saved in -data-dir)")
	flag.StringVar(&cfg.LocalBackend, "local-backend", env("LOCAL_BACKEND", "pebble"), "local store: pebble|badger|file")
	flag.StringVar(&cfg.DataDir, "data-dir", env("DATA_DIR", "./data/basketctl"), "local data directory")
	flag.StringVar(&cfg.Catalog, "catalog", env("CATALOG", ""), "catalog JSON file (empty: built-in catalog)")
	flag.StringVar(&cfg.FallbackLog, "fallback-log", env("FALLBACK_LOG", ""), "fallback order log (default <data-dir>/fallback-orders.jsonl)")
	flag.StringVar(&cfg.PhonePattern, "phone-pattern", env("PHONE_PATTERN", checkout.DefaultPhonePattern), "accepted phone number pattern")
	flag.StringVar(&cfg.KafkaBrokers, "kafka-brokers", env("KAFKA_BROKERS", ""), "comma-separated kafka bootstrap servers for order hand-off")
	flag.StringVar(&cfg.EventsTopic, "events-topic", env("EVENTS_TOPIC", events.DefaultTopic), "order event topic")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", env("JWT_SECRET", ""), "secret used by the token command")
	flag.StringVar(&cfg.LogLevel, "log-level", env("LOG_LEVEL", ""), "log level")
	flag.Parse()
	return cfg
}

// session bundles everything one invocation needs.
type session struct {
	cfg     Config
	logger  zerolog.Logger
	mreg    *metrics.Registry
	client  *remote.HTTPClient
	store   state.Store
	rec     *reconcile.Reconciler
	flog    orderlog.Log
	pub     events.Publisher
	closers []func() error
}

func run(cfg Config, args []string) error {
	cmd, args := args[0], args[1:]
	if cmd == "token" {
		return mintToken(cfg, args)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	s, err := open(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	if cmd == "replay" {
		return s.replay(ctx)
	}

	src, err := s.rec.Hydrate(ctx)
	if err != nil {
		return err
	}
	s.logger.Debug().Str("source", string(src)).Str("session", s.cfg.Session).Msg("basket hydrated")

	switch cmd {
	case "show":
		printView(s.rec.Snapshot())
		return nil
	case "add":
		if len(args) != 2 {
			return errors.New("add <id> <product|service>")
		}
		t, err := model.ParseItemType(args[1])
		if err != nil {
			return err
		}
		cat, err := catalog.Load(cfg.Catalog)
		if err != nil {
			return err
		}
		item, err := cat.Lookup(args[0], t)
		if err != nil {
			return err
		}
		return s.show(s.rec.Add(ctx, item, t))
	case "set":
		if len(args) != 3 {
			return errors.New("set <id> <product|service> <qty>")
		}
		k, err := parseKey(args[0], args[1])
		if err != nil {
			return err
		}
		q, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("quantity: %w", err)
		}
		return s.show(s.rec.SetQuantity(ctx, k, q))
	case "remove":
		if len(args) != 2 {
			return errors.New("remove <id> <product|service>")
		}
		k, err := parseKey(args[0], args[1])
		if err != nil {
			return err
		}
		return s.show(s.rec.Remove(ctx, k))
	case "clear":
		return s.show(s.rec.Clear(ctx))
	case "submit":
		if len(args) != 3 {
			return errors.New("submit <name> <phone> <whatsapp|sms|call>")
		}
		return s.submit(ctx, model.Customer{Name: args[0], Phone: args[1]}, model.ContactMethod(args[2]))
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func open(cfg Config) (*session, error) {
	s := &session{
		cfg:    cfg,
		logger: logging.Console(cfg.LogLevel),
		mreg:   metrics.NewRegistry(),
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	if cfg.Session == "" {
		// local and remote copies must share one session across invocations
		id, err := s.loadOrMintSession()
		if err != nil {
			return nil, err
		}
		s.cfg.Session = id
	}

	st, err := openStore(cfg.LocalBackend, filepath.Join(cfg.DataDir, cfg.LocalBackend), s.cfg.Session)
	if err != nil {
		return nil, err
	}
	s.store = st
	s.closers = append(s.closers, st.Close)

	var basketSvc remote.BasketService
	if cfg.Remote != "" {
		s.client = remote.NewHTTPClient(remote.ClientConfig{
			BaseURL: cfg.Remote,
			Session: s.cfg.Session,
			Timeout: cfg.RemoteTimeout,
		})
		basketSvc = s.client
	}
	s.rec = reconcile.New(reconcile.Deps{Store: st, Remote: basketSvc, Logger: s.logger, Metrics: s.mreg})

	path := cfg.FallbackLog
	if path == "" {
		path = filepath.Join(cfg.DataDir, "fallback-orders.jsonl")
	}
	fl, err := orderlog.NewFileLog(path)
	if err != nil {
		s.close()
		return nil, err
	}
	s.flog = fl
	s.pub = events.NopPublisher{}
	if brokers := events.SplitBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		m := orderlog.NewKafkaMirror(fl, brokers, cfg.EventsTopic+".fallback", s.logger)
		kp := events.NewKafkaPublisher(brokers, cfg.EventsTopic)
		s.flog, s.pub = m, kp
		s.closers = append(s.closers, m.Close, kp.Close)
	}
	return s, nil
}

func openStore(backend, dir, sess string) (state.Store, error) {
	switch backend {
	case "pebble", "":
		return state.NewPebbleStore(dir, sess)
	case "badger":
		return state.NewBadgerStore(dir, sess)
	case "file":
		return state.NewFileStore(dir, sess)
	}
	return nil, fmt.Errorf("unknown local backend %q", backend)
}

func (s *session) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn().Err(err).Msg("close")
		}
	}
}

func (s *session) sessionFile() string { return filepath.Join(s.cfg.DataDir, "session") }

func (s *session) loadOrMintSession() (string, error) {
	raw, err := os.ReadFile(s.sessionFile())
	if err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read session: %w", err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(s.sessionFile(), []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	return id, nil
}

func (s *session) show(v reconcile.View, err error) error {
	if err != nil && !errors.Is(err, reconcile.ErrLocalPersist) {
		return err
	}
	printView(v)
	if err != nil {
		// the change is live in memory only
		s.logger.Error().Err(err).Msg("basket not saved locally")
	}
	return nil
}

func (s *session) pipelineDeps() (checkout.Deps, error) {
	v, err := checkout.NewPhoneValidator(s.cfg.PhonePattern)
	if err != nil {
		return checkout.Deps{}, err
	}
	d := checkout.Deps{
		Cart:      s.rec,
		Log:       s.flog,
		Publisher: s.pub,
		Validator: v,
		Logger:    s.logger,
		Metrics:   s.mreg,
	}
	if s.client != nil {
		d.Orders = s.client
	}
	return d, nil
}

func (s *session) submit(ctx context.Context, c model.Customer, method model.ContactMethod) error {
	d, err := s.pipelineDeps()
	if err != nil {
		return err
	}
	p, err := checkout.New(d)
	if err != nil {
		return err
	}
	res, err := p.Submit(ctx, c, method)
	if err != nil {
		return err
	}
	fmt.Printf("order %s %s\n", res.Reference, res.State)
	fmt.Printf("total KSh %.2f for %s (%s) via %s\n", res.Order.Total, res.Order.CustomerName, res.Order.CustomerPhone, res.Order.Method)
	if res.Offline() {
		fmt.Printf("saved offline: %s\n", res.Reason)
	}
	return nil
}

func (s *session) replay(ctx context.Context) error {
	d, err := s.pipelineDeps()
	if err != nil {
		return err
	}
	r, err := checkout.NewReplayer(d)
	if err != nil {
		return err
	}
	res, err := r.Replay(ctx)
	if err != nil {
		return err
	}
	for _, st := range res.Settled {
		fmt.Printf("%s -> %s\n", st.LocalRef, st.RemoteID)
	}
	fmt.Printf("replayed %d, remaining %d\n", res.Replayed, res.Remaining)
	return nil
}

func mintToken(cfg Config, args []string) error {
	subject := "admin"
	if len(args) > 0 {
		subject = args[0]
	}
	tkn, err := server.MintAdminToken([]byte(cfg.JWTSecret), subject, 24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Println(tkn)
	return nil
}

func parseKey(id, typ string) (model.Key, error) {
	t, err := model.ParseItemType(typ)
	if err != nil {
		return model.Key{}, err
	}
	return model.Key{ItemID: id, ItemType: t}, nil
}

func printView(v reconcile.View) {
	if v.Empty() {
		fmt.Println("basket is empty")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tNAME\tQTY\tPRICE")
	for _, li := range v.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.2f\n", li.ID, li.Type, li.Name, li.Quantity, li.Price)
	}
	w.Flush()
	status := ""
	if v.Dirty {
		status = " (not yet synced)"
	}
	fmt.Printf("%d items, total KSh %s%s\n", v.ItemCount, v.Total.StringFixed(2), status)
}
