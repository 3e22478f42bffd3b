package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Rrens/classroom-live/internal/apiclient"
	"github.com/Rrens/classroom-live/internal/config"
	"github.com/Rrens/classroom-live/internal/lifecycle"
	"github.com/Rrens/classroom-live/internal/live"
	"github.com/Rrens/classroom-live/internal/logging"
	"github.com/Rrens/classroom-live/internal/realtime"
	"github.com/Rrens/classroom-live/internal/room/wsprovider"
	"github.com/Rrens/classroom-live/internal/tokenbroker"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const usage = `usage: liveclient [flags] <command> [args]

commands:
  sessions              list the classroom's sessions
  create                create a session (--title, --starts-at, --ends-at)
  start <session-id>    mark a scheduled session live
  end <session-id>      mark a live session ended
  delete <session-id>   delete a session (live ones need --privileged)
  sync                  apply due transitions on the server
  watch                 keep the session list fresh and run automatic transitions
  join <session-id>     join a session's room and chat

flags:
`

func main() {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("liveclient", pflag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	fs.String("api", "", "API base URL")
	fs.String("token", "", "platform access token")
	fs.StringP("classroom", "c", "", "classroom slug")
	fs.StringP("name", "n", "", "display name in the room")
	fs.Duration("poll", 0, "session list and chat history poll interval")
	fs.Bool("privileged", false, "act as the classroom owner (force deletes, automatic transitions)")
	fs.String("title", "", "session title (create)")
	fs.String("description", "", "session description (create)")
	fs.String("starts-at", "", "RFC3339 start time (create)")
	fs.String("ends-at", "", "RFC3339 end time (create)")
	fs.Parse(os.Args[1:])

	v := viper.New()
	v.BindPFlag("client.api_base_url", fs.Lookup("api"))
	v.BindPFlag("client.access_token", fs.Lookup("token"))
	v.BindPFlag("client.classroom", fs.Lookup("classroom"))
	v.BindPFlag("client.participant_name", fs.Lookup("name"))
	v.BindPFlag("client.poll_interval", fs.Lookup("poll"))

	cfg, err := config.LoadWith(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCloser, err := logging.Setup(cfg.Logging, os.Getenv("ENV"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		os.Exit(2)
	}

	privileged, _ := fs.GetBool("privileged")
	api := apiclient.New(cfg.Client.APIBaseURL, cfg.Client.AccessToken, nil)

	header := http.Header{}
	if cfg.Client.AccessToken != "" {
		header.Set("Authorization", "Bearer "+cfg.Client.AccessToken)
	}

	classroom, err := live.New(live.Config{
		Classroom:       cfg.Client.Classroom,
		ParticipantName: cfg.Client.ParticipantName,
		Privileged:      privileged,
		PollInterval:    cfg.Client.PollInterval,
		Lifecycle: lifecycle.Config{
			StartInterval:   cfg.Lifecycle.StartInterval,
			EndInterval:     cfg.Lifecycle.EndInterval,
			MaxLiveDuration: cfg.Lifecycle.MaxLiveDuration,
		},
		Token: tokenbroker.Config{
			AutoRefresh:     cfg.Client.AutoRefreshToken,
			RefreshFraction: cfg.Client.RefreshFraction,
			RetryInterval:   cfg.Client.RefreshRetry,
		},
		ReactionTTL:  cfg.Client.ReactionTTL,
		HistoryLimit: cfg.Client.HistoryLimit,
	}, live.Deps{
		API:   api,
		Feeds: live.RealtimeFeeds(realtime.NewClient(nil, header)),
		Rooms: wsprovider.New(nil),
		Clock: clockwork.NewRealClock(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create classroom client")
	}
	defer classroom.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &cli{classroom: classroom, api: api, flags: fs, out: os.Stdout, in: os.Stdin}
	if err := app.run(ctx, args[0], args[1:]); err != nil {
		log.Error().Err(err).Str("command", args[0]).Msg("Command failed")
		classroom.Close()
		os.Exit(1)
	}
}

func parseSessionID(args []string) (uuid.UUID, error) {
	if len(args) == 0 {
		return uuid.Nil, fmt.Errorf("session id is required")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid session id %q", args[0])
	}
	return id, nil
}
