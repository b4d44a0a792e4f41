package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/custodian-auth-backend/api/custodianhandler"
	"github.com/ruteri/custodian-auth-backend/api/registryhandler"
	"github.com/ruteri/custodian-auth-backend/cmd/flags"
	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/dauth"
	"github.com/ruteri/custodian-auth-backend/dcrypt"
	"github.com/ruteri/custodian-auth-backend/interfaces"
)

var commonFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "registry-url",
		Value: "http://127.0.0.1:8080",
		Usage: "registry base URL",
	},
	&cli.StringFlag{
		Name:     "username",
		Required: true,
		Usage:    "account username",
	},
	&cli.IntFlag{
		Name:  "threshold",
		Value: 0,
		Usage: "custodian threshold, 0 means all directory nodes",
	},
	flags.LogDebugFlag,
	flags.LogJSONFlag,
	flags.LogUIDFlag,
	flags.LogServiceFlag("accountcli"),
}

func main() {
	app := &cli.App{
		Name:  "accountcli",
		Usage: "Operate a threshold-custodian account from the command line",
		Commands: []*cli.Command{
			{
				Name:  "signup",
				Usage: "register a new account across the custodian set",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "password", Required: true},
					&cli.StringFlag{Name: "email", Required: true},
				}, commonFlags...),
				Action: runSignUp,
			},
			{
				Name:  "login",
				Usage: "authenticate and print the derived master public key",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "password", Required: true},
				}, commonFlags...),
				Action: runLogIn,
			},
			{
				Name:  "change-password",
				Usage: "rotate the account password",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "old-password", Required: true},
					&cli.StringFlag{Name: "new-password", Required: true},
				}, commonFlags...),
				Action: runChangePassword,
			},
			{
				Name:   "recover",
				Usage:  "ask every custodian to mail out its recovery code",
				Flags:  commonFlags,
				Action: runRecover,
			},
			{
				Name:  "reset",
				Usage: "finish recovery from mailed codes and set a new password",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "codes",
						Required: true,
						Usage:    "comma-separated recovery codes, at least threshold many",
					},
					&cli.StringFlag{Name: "new-password", Required: true},
				}, commonFlags...),
				Action: runReset,
			},
			{
				Name:  "vault-retrieve",
				Usage: "log in and print the hex-encoded vault private key",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "password", Required: true},
				}, commonFlags...),
				Action: runVaultRetrieve,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type session struct {
	log      *slog.Logger
	user     interfaces.UserID
	registry *registryhandler.Client
	clients  []*custodianhandler.Client
	flow     *dauth.Flow
	thresh   int
}

func newSession(cCtx *cli.Context) (*session, error) {
	logger := flags.SetupLogger(cCtx)
	ctx := cCtx.Context

	reg := registryhandler.NewClient(cCtx.String("registry-url"), nil)
	nodes, err := reg.Nodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching directory: %w", err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("directory lists no custodian nodes")
	}

	threshold := cCtx.Int("threshold")
	if threshold == 0 {
		threshold = len(nodes)
	}

	s := &session{
		log:      logger,
		user:     interfaces.SeedUserID(cCtx.String("username")),
		registry: reg,
		thresh:   threshold,
	}
	var authNodes []dauth.NodeClient
	for _, info := range nodes {
		client, err := custodianhandler.NewClient(ctx, info.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("connecting to custodian %s: %w", info.URL, err)
		}
		s.clients = append(s.clients, client)
		authNodes = append(authNodes, client)
	}
	s.flow, err = dauth.NewFlow(s.user, authNodes, threshold, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) vaultFlow() (*dcrypt.Flow, error) {
	nodes := make([]dcrypt.NodeClient, len(s.clients))
	for i, c := range s.clients {
		nodes[i] = c
	}
	return dcrypt.NewFlow(s.user, nodes, s.thresh, s.log)
}

func runSignUp(cCtx *cli.Context) error {
	s, err := newSession(cCtx)
	if err != nil {
		return err
	}
	res, err := s.flow.SignUp(cCtx.Context,
		[]byte(cCtx.String("password")), cCtx.String("email"), nil, s.registry)
	if err != nil {
		return err
	}
	fmt.Printf("registered %s\npublic key: %x\n",
		s.user, cryptoutils.MarshalPoint(res.MasterPublicKey))
	return nil
}

func runLogIn(cCtx *cli.Context) error {
	s, err := newSession(cCtx)
	if err != nil {
		return err
	}
	entry, err := s.registry.Get(cCtx.Context, s.user)
	if err != nil {
		return fmt.Errorf("fetching registration entry: %w", err)
	}
	res, err := s.flow.LogIn(cCtx.Context, []byte(cCtx.String("password")), entry.PublicKey)
	if err != nil {
		return err
	}
	fmt.Printf("authenticated %s\npublic key: %x\n",
		s.user, cryptoutils.MarshalPoint(res.MasterPublicKey))
	return nil
}

func runChangePassword(cCtx *cli.Context) error {
	s, err := newSession(cCtx)
	if err != nil {
		return err
	}
	_, err = s.flow.ChangePassword(cCtx.Context,
		[]byte(cCtx.String("old-password")), []byte(cCtx.String("new-password")))
	if err != nil {
		return err
	}
	fmt.Println("password changed")
	return nil
}

func runRecover(cCtx *cli.Context) error {
	s, err := newSession(cCtx)
	if err != nil {
		return err
	}
	if err := s.flow.RequestRecovery(cCtx.Context); err != nil {
		return err
	}
	fmt.Println("recovery codes sent; finish with 'reset --codes ...'")
	return nil
}

func runReset(cCtx *cli.Context) error {
	s, err := newSession(cCtx)
	if err != nil {
		return err
	}
	entry, err := s.registry.Get(cCtx.Context, s.user)
	if err != nil {
		return fmt.Errorf("fetching registration entry: %w", err)
	}
	codes := strings.Split(cCtx.String("codes"), ",")
	secret, err := dauth.Reconstruct(codes)
	if err != nil {
		return err
	}
	_, err = s.flow.FinishRecovery(cCtx.Context, secret, entry.PublicKey,
		[]byte(cCtx.String("new-password")))
	if err != nil {
		return err
	}
	fmt.Println("account recovered, new password set")
	return nil
}

func runVaultRetrieve(cCtx *cli.Context) error {
	s, err := newSession(cCtx)
	if err != nil {
		return err
	}
	entry, err := s.registry.Get(cCtx.Context, s.user)
	if err != nil {
		return fmt.Errorf("fetching registration entry: %w", err)
	}
	login, err := s.flow.LogIn(cCtx.Context, []byte(cCtx.String("password")), entry.PublicKey)
	if err != nil {
		return err
	}
	vault, err := s.vaultFlow()
	if err != nil {
		return err
	}
	key, err := vault.RetrieveKey(cCtx.Context, login.MasterKey)
	if err != nil {
		return err
	}
	fmt.Printf("vault key: %s\n", hex.EncodeToString(cryptoutils.MarshalScalar(key)))
	return nil
}
