package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/plagiascan/plagiascan-cli/internal/utils"
	"github.com/plagiascan/plagiascan-cli/pkg/api"
	"github.com/plagiascan/plagiascan-cli/pkg/documents"
	"github.com/plagiascan/plagiascan-cli/pkg/polling"
	"github.com/plagiascan/plagiascan-cli/pkg/scans"
)

var errNotLoggedIn = errors.New("not logged in. Run 'plagiascan login' first")

// app wires the engine for one command invocation: session from the
// stored token, transport client, poll manager, both trackers.
type app struct {
	session *api.Session
	client  *api.Client
	poll    *polling.Manager
	docs    *documents.Tracker
	scans   *scans.Tracker
}

func newApp(cmd *cobra.Command) *app {
	base, _ := cmd.Flags().GetString("api")
	if base == "" {
		base = viper.GetString("api.url")
	}
	interval := viper.GetDuration("poll.interval")
	if interval <= 0 {
		interval = documents.DefaultInterval
	}

	session := api.NewSession(viper.GetString("api.token"))
	session.OnInvalidate(func() {
		utils.Log.Warn("Session rejected by the server. Run 'plagiascan login' again.")
		clearStoredToken()
	})

	client := api.New(base, session)
	poll := polling.NewManager(utils.Log)
	docs := documents.NewTracker(documents.Config{
		Client:   client,
		Session:  session,
		Poll:     poll,
		Interval: interval,
		Log:      utils.Log,
	})
	sc := scans.NewTracker(scans.Config{
		Client:   client,
		Session:  session,
		Poll:     poll,
		Docs:     docs,
		Interval: interval,
		Log:      utils.Log,
	})

	return &app{session: session, client: client, poll: poll, docs: docs, scans: sc}
}

func storeToken(token string) error {
	viper.Set("api.token", token)
	return viper.WriteConfig()
}

func clearStoredToken() {
	viper.Set("api.token", "")
	if err := viper.WriteConfig(); err != nil {
		utils.Log.Debugf("could not clear stored token: %v", err)
	}
}
