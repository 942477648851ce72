package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/diagnosis/citizen-portal/pkg/schedule"
	"github.com/diagnosis/citizen-portal/pkg/tracking"
	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "portalctl",
		Usage: "Operate the citizen services portal",
		Commands: []*cli.Command{
			tokenCommand(),
			slotsCommand(),
			hashPasswordCommand(),
		},
	}
}

var secretFlag = &cli.StringFlag{
	Name:    "secret",
	Usage:   "Tracking link signing secret",
	EnvVars: []string{"TRACKING_SECRET"},
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue and verify tracking tokens",
		Subcommands: []*cli.Command{
			{
				Name:  "issue",
				Usage: "Mint a tracking token for a booking",
				Flags: []cli.Flag{
					secretFlag,
					&cli.StringFlag{Name: "ref", Usage: "Booking reference", Required: true},
					&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime", Value: tracking.DefaultTTL},
					&cli.StringFlag{Name: "site-url", Usage: "Print a full link under this URL", EnvVars: []string{"SITE_URL"}},
				},
				Action: tokenIssue,
			},
			{
				Name:      "verify",
				Usage:     "Check a tracking token",
				ArgsUsage: "TOKEN",
				Flags:     []cli.Flag{secretFlag},
				Action:    tokenVerify,
			},
		},
	}
}

func tokenIssue(c *cli.Context) error {
	signer, err := tracking.NewSigner(c.String("secret"), c.Duration("ttl"))
	if err != nil {
		return err
	}
	tok, err := signer.Issue(c.String("ref"))
	if err != nil {
		return err
	}
	if site := c.String("site-url"); site != "" {
		fmt.Fprintln(c.App.Writer, tracking.Link(site, tok))
		return nil
	}
	fmt.Fprintln(c.App.Writer, tok)
	return nil
}

func tokenVerify(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: portalctl token verify TOKEN")
	}
	secret := []byte(c.String("secret"))
	tok := c.Args().First()

	payload, err := tracking.Decode(tok, secret)
	if err != nil {
		return err
	}
	expires := time.Unix(payload.ExpiresAtEpochSeconds, 0).UTC()
	if _, err := tracking.Verify(tok, secret, time.Now()); err != nil {
		fmt.Fprintf(c.App.Writer, "reference: %s\nexpired:   %s\n", payload.BookingRef, expires.Format(time.RFC3339))
		return err
	}
	fmt.Fprintf(c.App.Writer, "reference: %s\nexpires:   %s\n", payload.BookingRef, expires.Format(time.RFC3339))
	return nil
}

func slotsCommand() *cli.Command {
	return &cli.Command{
		Name:  "slots",
		Usage: "Preview the appointment grid for one service on one day",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tenant", Value: "default", EnvVars: []string{"DEFAULT_TENANT"}},
			&cli.StringFlag{Name: "service", Required: true},
			&cli.StringFlag{Name: "date", Usage: "YYYY-MM-DD", Required: true},
			&cli.IntFlag{Name: "percent", Value: 70, EnvVars: []string{"AVAILABILITY_PERCENT"}},
			&cli.StringFlag{Name: "timezone", Value: "UTC", EnvVars: []string{"PORTAL_TIMEZONE"}},
		},
		Action: func(c *cli.Context) error {
			loc, err := time.LoadLocation(c.String("timezone"))
			if err != nil {
				return fmt.Errorf("timezone: %w", err)
			}
			a := schedule.NewAvailability(c.Int("percent"), 30*time.Minute, loc)
			day, err := a.ParseDate(c.String("date"))
			if err != nil {
				return err
			}
			// Past slots are shown as open so historic grids can be checked.
			slots := a.Slots(c.String("tenant"), c.String("service"), day, time.Time{}, nil)
			if len(slots) == 0 {
				fmt.Fprintln(c.App.Writer, "no slots (weekend)")
				return nil
			}
			for _, s := range slots {
				mark := "closed"
				if s.Available {
					mark = "open"
				}
				fmt.Fprintf(c.App.Writer, "%s  %s\n", s.Time, mark)
			}
			return nil
		},
	}
}

func hashPasswordCommand() *cli.Command {
	return &cli.Command{
		Name:  "hash-password",
		Usage: "Hash a staff password for seeding the staff table",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "password", Required: true},
		},
		Action: func(c *cli.Context) error {
			if len(c.String("password")) < 12 {
				return errors.New("password must be at least 12 characters")
			}
			hash, err := argon2id.CreateHash(c.String("password"), argon2id.DefaultParams)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, hash)
			return nil
		},
	}
}
