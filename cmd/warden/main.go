// Command warden collects this machine's device fingerprint and drives a
// mining session against the mining API.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"warden/internal/api"
	"warden/internal/config"
	"warden/internal/device"
	"warden/internal/devices"
	"warden/internal/fingerprint"
	"warden/internal/mining"
)

const usage = `usage: warden [flags] <command> [args]

commands:
  mine                 verify this device and run one mining session
  status               show the mining status of the account
  stop                 stop an active mining session
  devices              list devices registered to the account
  remove-device <hash> remove a registered device
`

type app struct {
	cfg    *config.Config
	log    *logrus.Logger
	client *api.Client
	out    io.Writer
}

func main() {
	configPath := flag.String("config", "warden.yaml", "path to the YAML config")
	user := flag.String("user", "", "request a development session for this user")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage); flag.PrintDefaults() }
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("main: .env not loaded")
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("main: failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, log: log, client: api.NewClient(cfg.API, log), out: os.Stdout}
	if *user != "" {
		name := *user
		refresh := func(ctx context.Context) (string, error) {
			token, _, err := a.client.Session(ctx, name)
			return token, err
		}
		if _, err := refresh(ctx); err != nil {
			log.WithError(err).Fatal("main: could not open session")
		}
		a.client.SetRefresher(refresh)
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "warden:", err)
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "mine":
		fs := flag.NewFlagSet("mine", flag.ExitOnError)
		watch := fs.Bool("watch", false, "keep following the cooldown after the reward")
		_ = fs.Parse(args)
		return a.mine(ctx, os.Stdin, *watch)
	case "status":
		return a.status(ctx)
	case "stop":
		if err := a.client.Stop(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "mining stopped")
		return nil
	case "devices":
		return a.devices(ctx)
	case "remove-device":
		if len(args) != 1 {
			return errors.New("remove-device needs exactly one device hash")
		}
		return a.removeDevice(ctx, args[0])
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (a *app) mine(ctx context.Context, in io.Reader, watch bool) error {
	events := make(chan mining.Snapshot, 64)
	session := mining.NewSession(mining.Options{
		API:           a.client,
		Fingerprinter: device.NewAggregator(a.cfg.Collection, a.cfg.API.UserAgent, a.log),
		Config:        a.cfg.Mining,
		Log:           a.log,
		Observer: func(s mining.Snapshot) {
			select {
			case events <- s:
			default:
			}
		},
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = (&mining.Runner{Session: session}).Run(runCtx) }()

	if err := session.Start(ctx); err != nil {
		drain(a.out, events)
		return err
	}

	codes := bufio.NewScanner(in)
	for session.Phase() == mining.PhaseTwoFactorVerify {
		drain(a.out, events)
		fmt.Fprint(a.out, "verification code: ")
		if !codes.Scan() {
			return errors.New("no verification code entered")
		}
		err := session.SubmitCode(ctx, strings.TrimSpace(codes.Text()))
		var locked *api.RateLimitError
		switch {
		case err == nil:
		case errors.Is(err, mining.ErrLocked), errors.As(err, &locked):
			fmt.Fprintf(a.out, "locked, retry in %ds\n", session.Snapshot().LockoutSeconds)
			return err
		default:
			fmt.Fprintln(a.out, "rejected:", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-events:
			render(a.out, snap)
			if done(snap.Phase, watch) {
				drain(a.out, events)
				return nil
			}
		}
	}
}

// done reports whether mine has nothing left to show.
func done(p mining.Phase, watch bool) bool {
	switch {
	case p == mining.PhaseIdle, p.Terminal():
		return true
	case p == mining.PhaseCooldown:
		return !watch
	}
	return false
}

func drain(w io.Writer, events <-chan mining.Snapshot) {
	for {
		select {
		case snap := <-events:
			render(w, snap)
		default:
			return
		}
	}
}

func render(w io.Writer, s mining.Snapshot) {
	switch s.Phase {
	case mining.PhaseMiningActive:
		fmt.Fprintf(w, "mining %3d%%\n", s.Progress)
		return
	case mining.PhaseCooldown:
		if s.CooldownRemaining > 0 {
			fmt.Fprintf(w, "cooldown %s (about %dh)\n", s.CooldownRemaining.Round(time.Second), s.HoursRemaining)
			return
		}
	case mining.PhaseSuccessDisplay:
		if s.Reward != nil {
			fmt.Fprintf(w, "reward %.4f, balance %.4f\n", s.Reward.Reward, s.Reward.Balance)
			return
		}
	}
	line := string(s.Phase)
	if s.Message != "" {
		line += ": " + s.Message
	}
	fmt.Fprintln(w, line)
	if s.Phase == mining.PhaseMiningBlocked && s.Status != nil {
		fmt.Fprintf(w, "  balance %.4f, session %.0fh, mining disabled on this device\n", s.Status.Balance, s.Status.SessionHours)
	}
	for _, e := range s.Explanations {
		fmt.Fprintf(w, "  - %s: %s\n", e.Description, e.Remediation)
		if e.LikelyFalsePositive {
			fmt.Fprintln(w, "    this looks like a local development address and may be a false positive")
		}
	}
}

func (a *app) status(ctx context.Context) error {
	st, err := a.client.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "can mine:  %v\nmining:    %v\nbalance:   %.4f\n", st.CanMine, st.IsMining, st.Balance)
	if end := mining.CooldownEnd(st); time.Until(end) > 0 {
		fmt.Fprintf(a.out, "next mine: %s\n", end.Local().Format(time.RFC1123))
	}
	if st.IsBoosted {
		fmt.Fprintf(a.out, "boost:     %.0f%%\n", st.BoostRate*100)
	}
	return nil
}

// manager fingerprints this machine so the current device is known locally.
func (a *app) manager(ctx context.Context) *devices.Manager {
	fp, _ := device.NewAggregator(a.cfg.Collection, a.cfg.API.UserAgent, a.log).Collect(ctx)
	return &devices.Manager{API: a.client, CurrentHash: fingerprint.DeviceHash(fp), Log: a.log}
}

func (a *app) devices(ctx context.Context) error {
	m := a.manager(ctx)
	list, err := m.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tTYPE\tLAST SEEN\tHASH\t")
	for _, d := range list.Devices {
		name := d.DisplayID
		if d.IsCurrentDevice {
			name += " (this device)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", name, d.DeviceType, d.LastSeen.Local().Format(time.DateTime), d.FingerprintHash)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d of %d device slots free\n", devices.Capacity(list), list.MaxDevices)
	return nil
}

func (a *app) removeDevice(ctx context.Context, hash string) error {
	if err := a.manager(ctx).Remove(ctx, hash); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "device removed")
	return nil
}
