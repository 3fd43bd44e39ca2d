package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/avalon-stream/hlsplay/internal/config"
	"github.com/avalon-stream/hlsplay/internal/dispatcher"
	"github.com/avalon-stream/hlsplay/internal/fetcher"
	"github.com/avalon-stream/hlsplay/internal/host"
	"github.com/avalon-stream/hlsplay/internal/httpapi"
	"github.com/avalon-stream/hlsplay/internal/mediasource"
	"github.com/avalon-stream/hlsplay/internal/observability"
	"github.com/avalon-stream/hlsplay/internal/playerhost"
	"github.com/avalon-stream/hlsplay/internal/requester"
	"github.com/avalon-stream/hlsplay/internal/storage"
	"github.com/avalon-stream/hlsplay/internal/timer"
	"github.com/avalon-stream/hlsplay/internal/version"
)

var (
	startPositionFlag string
	sessionIDFlag     string
)

var playCmd = &cobra.Command{
	Use:   "play <multivariant-playlist-url>",
	Short: "Play an HLS stream",
	Long: `play loads a Multivariant Playlist URL and drives adaptive-bitrate
playback against it: variant selection, segment fetching, buffering and
live playlist refresh all run headlessly, with progress observable
through the debug HTTP API and the diagnostics log.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	playCmd.Flags().StringVar(&startPositionFlag, "start", "expected", "starting position: expected, beginning, end, or a number of seconds")
	playCmd.Flags().StringVar(&sessionIDFlag, "session-id", "", "diagnostics session id (default: generated)")
	rootCmd.AddCommand(playCmd)
}

// sinkRelay breaks the construction cycle between the dispatcher and its
// host collaborators (fetcher, timer scheduler, playback clock all hold an
// EngineSink; the dispatcher itself is that sink, but it can't exist until
// its collaborators do). Collaborators are built against the relay, and
// the dispatcher is attached to it once constructed.
type sinkRelay struct {
	target host.EngineSink
}

func (r *sinkRelay) OnRequestSucceeded(id host.RequestID, blob []byte, finalURL string, size int64, durationMs float64) {
	r.target.OnRequestSucceeded(id, blob, finalURL, size, durationMs)
}

func (r *sinkRelay) OnRequestFailed(id host.RequestID, timedOut bool, status *int) {
	r.target.OnRequestFailed(id, timedOut, status)
}

func (r *sinkRelay) OnTimerElapsed(id host.TimerID) {
	r.target.OnTimerElapsed(id)
}

func (r *sinkRelay) OnCodecSupportUpdate() {
	r.target.OnCodecSupportUpdate()
}

func (r *sinkRelay) OnObservation(obs host.MediaObservation) {
	r.target.OnObservation(obs)
}

func runPlay(cobraCmd *cobra.Command, args []string) error {
	cfgPath, _ := cobraCmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	sessionID := sessionIDFlag
	if sessionID == "" {
		sessionID = storage.NewULID().String()
	}
	logger = logger.With("session_id", sessionID)

	db, err := storage.Open(storage.Config{DSN: cfg.Storage.DSN, LogLevel: cfg.Storage.LogLevel}, logger)
	if err != nil {
		return fmt.Errorf("opening diagnostics database: %w", err)
	}
	events := storage.NewEventRepository(db)

	startPos, err := parseStartingPosition(startPositionFlag)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cobraCmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay := &sinkRelay{}
	timers := timer.New(relay)
	msHost := mediasource.New(mediasource.DefaultConfig())
	if err := msHost.AttachMediaSource(); err != nil {
		return fmt.Errorf("attaching media source: %w", err)
	}
	clock := playerhost.New(relay)
	f := fetcher.New(relay, fetcherConfig(cfg))

	d := dispatcher.New(f, timers, msHost, playerhost.AlwaysSupportedProbe{}, clock, playerhost.MathRandSource{}, playerhost.NewLogReporter(logger), dispatcher.Config{
		Requester:         requesterConfig(cfg),
		BandwidthHalfLife: cfg.Adaptive.EWMAHalfLifeFast * 1000,
		BufferGoal:        cfg.MediaElement.BufferGoal.Seconds(),
	})
	relay.target = d
	d.SetObserver(storageObserver{repo: events, sessionID: sessionID, logger: logger})

	clock.StartObservingPlayback()
	defer clock.StopObservingPlayback()

	d.Load(args[0], startPos)

	statusAdapter := dispatcherStatusAdapter{d: d}
	variantsAdapter := dispatcherVariantAdapter{d: d}
	eventsAdapter := eventRepositoryAdapter{repo: events, sessionID: sessionID}

	var api *httpapi.Server
	if cfg.HTTPAPI.Enabled {
		api = httpapi.New(httpapi.Config{Host: cfg.HTTPAPI.Host, Port: cfg.HTTPAPI.Port}, logger, version.Short(), statusAdapter, variantsAdapter, eventsAdapter)
	}

	g, gctx := errgroup.WithContext(ctx)
	if api != nil {
		g.Go(func() error {
			if err := api.Start(); err != nil {
				return fmt.Errorf("debug http api: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		if api != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := api.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutting down debug http api", "error", err)
			}
		}
		d.Stop()
		return nil
	})

	logger.Info("playback started", "url", args[0], "debug_api_enabled", cfg.HTTPAPI.Enabled)
	if err := g.Wait(); err != nil {
		return fmt.Errorf("running playback: %w", err)
	}
	return nil
}

func parseStartingPosition(raw string) (dispatcher.StartingPosition, error) {
	switch raw {
	case "", "expected":
		return dispatcher.StartingPosition{Kind: dispatcher.StartFromExpected}, nil
	case "beginning":
		return dispatcher.StartingPosition{Kind: dispatcher.StartFromBeginning}, nil
	case "end":
		return dispatcher.StartingPosition{Kind: dispatcher.StartFromEnd}, nil
	default:
		var offset float64
		if _, err := fmt.Sscanf(raw, "%f", &offset); err != nil {
			return dispatcher.StartingPosition{}, fmt.Errorf("invalid --start value %q: must be expected, beginning, end, or a number of seconds", raw)
		}
		return dispatcher.StartingPosition{Kind: dispatcher.StartAbsolute, Offset: offset}, nil
	}
}

// dispatcherStatusAdapter narrows *dispatcher.Dispatcher to httpapi.StatusProvider
// without the httpapi package importing internal/dispatcher.
type dispatcherStatusAdapter struct {
	d *dispatcher.Dispatcher
}

func (a dispatcherStatusAdapter) Status() httpapi.Status {
	st := a.d.Status()
	positions := make(map[string]float64, len(st.SelectorPositions))
	for mt, pos := range st.SelectorPositions {
		positions[mt.String()] = pos
	}
	return httpapi.Status{
		State:             st.State.String(),
		BandwidthEstimate: st.BandwidthEstimate,
		CurrentVariant:    st.CurrentVariant,
		WantedPosition:    st.WantedPosition,
		SelectorPositions: positions,
	}
}

// storageObserver implements dispatcher.Observer by persisting every
// notification to the diagnostics database, scoped to this process's
// session. Record errors are logged, not propagated: a diagnostics write
// failure must never interrupt playback.
type storageObserver struct {
	repo      *storage.EventRepository
	sessionID string
	logger    *slog.Logger
}

func (o storageObserver) record(ctx context.Context, kind storage.PlaybackEventKind, detail string, position float64) {
	ev := &storage.PlaybackEvent{
		SessionID: o.sessionID,
		Kind:      kind,
		Detail:    detail,
		Position:  position,
	}
	if err := o.repo.Record(ctx, ev); err != nil {
		o.logger.Error("recording diagnostics event", "kind", kind, "error", err)
	}
}

func (o storageObserver) ObserveVariantSwitch(mediaType host.MediaType, stableID string, worsening bool) {
	detail := stableID
	if worsening {
		detail = stableID + " (worsening)"
	}
	o.record(context.Background(), storage.EventVariantSwitch, mediaType.String()+" -> "+detail, 0)
}

func (o storageObserver) ObserveRebufferStart() {
	o.record(context.Background(), storage.EventRebufferStart, "", 0)
}

func (o storageObserver) ObserveRebufferEnd() {
	o.record(context.Background(), storage.EventRebufferEnd, "", 0)
}

func (o storageObserver) ObserveFatalError(err error) {
	o.record(context.Background(), storage.EventFatalError, err.Error(), 0)
}

func (o storageObserver) ObserveSeek(position float64) {
	o.record(context.Background(), storage.EventSeek, "", position)
}

func (o storageObserver) ObserveLiveDiscontinuitySkip(position float64) {
	o.record(context.Background(), storage.EventLiveDiscontSkip, "", position)
}

// dispatcherVariantAdapter narrows *dispatcher.Dispatcher to
// httpapi.VariantLister without the httpapi package importing internal/parser.
type dispatcherVariantAdapter struct {
	d *dispatcher.Dispatcher
}

func (a dispatcherVariantAdapter) Variants() []httpapi.Variant {
	variants := a.d.Variants()
	out := make([]httpapi.Variant, 0, len(variants))
	for _, v := range variants {
		hv := httpapi.Variant{
			StableID:     v.StableID,
			Bandwidth:    v.Bandwidth,
			Codecs:       v.Codecs,
			HDRRange:     v.HDRRange,
			AudioGroupID: v.AudioGroupID,
			Score:        v.Score,
		}
		if v.Resolution != nil {
			hv.Width = v.Resolution.Width
			hv.Height = v.Resolution.Height
		}
		if v.FrameRate != nil {
			hv.FrameRate = *v.FrameRate
		}
		out = append(out, hv)
	}
	return out
}

// eventRepositoryAdapter narrows *storage.EventRepository to
// httpapi.EventLister, scoping every query to the session this process owns.
type eventRepositoryAdapter struct {
	repo      *storage.EventRepository
	sessionID string
}

func (a eventRepositoryAdapter) Recent(ctx context.Context, _ string, limit int) ([]httpapi.Event, error) {
	recs, err := a.repo.Recent(ctx, a.sessionID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]httpapi.Event, 0, len(recs))
	for _, r := range recs {
		out = append(out, httpapi.Event{
			ID:         r.ID.String(),
			SessionID:  r.SessionID,
			Kind:       string(r.Kind),
			OccurredAt: r.OccurredAt,
			Detail:     r.Detail,
			Position:   r.Position,
		})
	}
	return out, nil
}

func requesterConfig(cfg *config.Config) requester.Config {
	return requester.Config{
		PlaylistTimeout: cfg.Requester.PlaylistTimeout,
		SegmentTimeout:  cfg.Requester.SegmentTimeout,
		RetryBase:       cfg.Requester.RetryBaseDelay,
		RetryMax:        cfg.Requester.RetryMaxDelay,
	}
}

func fetcherConfig(cfg *config.Config) fetcher.Config {
	fc := fetcher.DefaultConfig()
	fc.Timeout = cfg.HTTP.Timeout
	fc.UserAgent = cfg.HTTP.UserAgent
	fc.EnableDecompression = cfg.HTTP.EnableDecompression
	fc.CircuitThreshold = cfg.HTTP.CircuitThreshold
	fc.CircuitTimeout = cfg.HTTP.CircuitTimeout
	return fc
}
