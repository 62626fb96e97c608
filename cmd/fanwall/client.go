package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/fanwall/internal/compositor"
	"github.com/MarcoPoloResearchLab/fanwall/internal/config"
	"github.com/MarcoPoloResearchLab/fanwall/internal/engagement"
	"github.com/MarcoPoloResearchLab/fanwall/internal/feed"
	"github.com/MarcoPoloResearchLab/fanwall/internal/identity"
	"github.com/MarcoPoloResearchLab/fanwall/internal/logging"
	"github.com/MarcoPoloResearchLab/fanwall/internal/nickname"
	"github.com/MarcoPoloResearchLab/fanwall/internal/sharecard"
	"github.com/MarcoPoloResearchLab/fanwall/internal/signatures"
	"github.com/MarcoPoloResearchLab/fanwall/internal/wallclient"
)

const (
	modeDesktop = "desktop"
	modeMobile  = "mobile"
)

var errUnknownMode = errors.New("mode must be desktop or mobile")

// clientSession bundles what every client command needs.
type clientSession struct {
	config   config.AppConfig
	logger   *zap.Logger
	client   *wallclient.Client
	provider *identity.Provider
	viewer   identity.Identity
}

func openClientSession() (*clientSession, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}
	client, err := wallclient.New(wallclient.Config{BaseURL: appConfig.Client.BaseURL, Logger: logger})
	if err != nil {
		return nil, err
	}
	provider := identity.NewProvider(identity.ProviderConfig{
		Store: identity.NewFileStore(appConfig.Client.IdentityFile, time.Now),
		Clock: time.Now,
	})
	viewer, err := provider.Current()
	if err != nil {
		return nil, err
	}
	return &clientSession{
		config:   appConfig,
		logger:   logger,
		client:   client,
		provider: provider,
		viewer:   viewer,
	}, nil
}

func newBrowseCommand() *cobra.Command {
	var (
		mode  string
		pages int
		page  int
	)
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "List wall signatures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := openClientSession()
			if err != nil {
				return err
			}
			options := feed.DesktopOptions
			switch mode {
			case modeDesktop:
			case modeMobile:
				options = feed.MobileOptions
			default:
				return errUnknownMode
			}
			pager, err := feed.NewPager(feed.Config{
				Source:  session.client,
				Likes:   session.client,
				Viewer:  session.viewer,
				Options: options,
				Logger:  session.logger,
			})
			if err != nil {
				return err
			}

			if options.Accumulate {
				for loaded := 0; loaded < pages; loaded++ {
					rows, err := pager.Next(cmd.Context())
					if err != nil {
						return err
					}
					if rows == nil {
						break
					}
				}
			} else if _, err := pager.GoTo(cmd.Context(), page); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, row := range pager.Items() {
				printSignature(out, row, pager.Liked(row.ID))
			}
			fmt.Fprintf(out, "\n%d signatures, level %s", pager.TotalCount(), pager.Level())
			if !options.Accumulate {
				fmt.Fprintf(out, ", page %d of %d", pager.CurrentPage()+1, pager.TotalPages())
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", modeDesktop, "Feed mode (desktop accumulates, mobile pages)")
	cmd.Flags().IntVar(&pages, "pages", 1, "Number of batches to load in desktop mode")
	cmd.Flags().IntVar(&page, "page", 0, "Zero-based page to show in mobile mode")
	return cmd
}

func newLikeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "like <signature-id>",
		Short: "Toggle your like on a signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := openClientSession()
			if err != nil {
				return err
			}
			id := args[0]
			signature, err := session.client.GetSignature(cmd.Context(), session.viewer, id)
			if err != nil {
				return err
			}
			status, err := session.client.LikeStatus(cmd.Context(), session.viewer, []string{id})
			if err != nil {
				return err
			}
			coordinator, err := newCoordinator(session)
			if err != nil {
				return err
			}
			coordinator.Seed(id, status[id], signature.Likes)
			state, err := coordinator.Toggle(cmd.Context(), id)
			if err != nil {
				return err
			}
			verb := "unliked"
			if state.Liked {
				verb = "liked"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d likes)\n", verb, id, state.Likes)
			return nil
		},
	}
}

func newCommentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "comment <signature-id> [message]",
		Short: "List comments on a signature, or add one",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := openClientSession()
			if err != nil {
				return err
			}
			coordinator, err := newCoordinator(session)
			if err != nil {
				return err
			}
			id := args[0]
			if _, err := coordinator.LoadComments(cmd.Context(), id); err != nil {
				return err
			}
			if len(args) > 1 {
				if _, err := coordinator.SubmitComment(cmd.Context(), id, strings.Join(args[1:], " ")); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			for _, comment := range coordinator.Comments(id) {
				fmt.Fprintf(out, "%s  %s: %s\n", comment.CreatedAt.Local().Format(time.DateTime), comment.Username, comment.Message)
			}
			return nil
		},
	}
}

// ensureNickname generates and persists a nickname when none is stored yet.
func (session *clientSession) ensureNickname(ctx context.Context) (nickname.Name, error) {
	if session.viewer.HasUsername() {
		return nickname.Name{Value: session.viewer.Username}, nil
	}
	generated := session.client.Generate(ctx)
	if err := session.provider.SetUsername(generated.Value); err != nil {
		return nickname.Name{}, err
	}
	session.viewer = session.viewer.WithUsername(generated.Value)
	return generated, nil
}

func newNicknameCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "nickname",
		Short: "Show, generate or set your display nickname",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := openClientSession()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if strings.TrimSpace(name) != "" {
				if err := session.provider.SetUsername(name); err != nil {
					return err
				}
				fmt.Fprintln(out, strings.TrimSpace(name))
				return nil
			}
			if session.viewer.HasUsername() {
				fmt.Fprintln(out, session.viewer.Username)
				return nil
			}
			generated, err := session.ensureNickname(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s (%s)\n", generated.Value, generated.Source)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "set", "", "Persist this nickname instead of generating one")
	return cmd
}

func newWhoAmICommand() *cobra.Command {
	var hidePopup bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the stored client identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := openClientSession()
			if err != nil {
				return err
			}
			if hidePopup {
				if err := session.provider.HidePopupForToday(); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user id:  %s\n", session.viewer.UserID)
			fmt.Fprintf(out, "nickname: %s\n", session.viewer.Username)
			fmt.Fprintf(out, "popup hidden today: %t\n", session.provider.PopupHidden())
			return nil
		},
	}
	cmd.Flags().BoolVar(&hidePopup, "hide-popup", false, "Hide the welcome popup until midnight")
	return cmd
}

func newComposeCommand() *cobra.Command {
	var (
		drawingPath    string
		backgroundPath string
		outPath        string
		message        string
		submit         bool
	)
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Compose a drawing onto an optional background, and optionally submit it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := openClientSession()
			if err != nil {
				return err
			}
			drawing, err := readDrawing(drawingPath)
			if err != nil {
				return err
			}
			var background []byte
			if backgroundPath != "" {
				if background, err = os.ReadFile(backgroundPath); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if outPath != "" {
				composed, err := compositor.New(session.logger).ComposeDrawing(drawing, background)
				if err != nil {
					return err
				}
				encoded, err := compositor.EncodePNG(composed)
				if err != nil {
					return err
				}
				if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(out, "wrote %s\n", outPath)
			}

			if submit {
				if _, err := session.ensureNickname(cmd.Context()); err != nil {
					return err
				}
				created, err := session.client.Submit(cmd.Context(), session.viewer, message, drawing, background)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "submitted %s\n%s\n", created.ID, created.SignatureURL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&drawingPath, "drawing", "", "Path to drawing JSON (width, height, strokes)")
	cmd.Flags().StringVar(&backgroundPath, "background", "", "Optional background image")
	cmd.Flags().StringVar(&outPath, "out", "", "Write the composed PNG here")
	cmd.Flags().StringVar(&message, "message", "", "Message to attach when submitting")
	cmd.Flags().BoolVar(&submit, "submit", false, "Submit the drawing to the wall")
	_ = cmd.MarkFlagRequired("drawing")
	return cmd
}

func newShareCardCommand() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "share-card <signature-id>",
		Short: "Render a signature share-card PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := openClientSession()
			if err != nil {
				return err
			}
			signature, err := session.client.GetSignature(cmd.Context(), session.viewer, args[0])
			if err != nil {
				return err
			}
			renderer, err := sharecard.NewRenderer(session.client, session.logger)
			if err != nil {
				return err
			}
			written, err := renderer.Download(cmd.Context(), sharecard.Card{
				AuthorName:   signature.AuthorName,
				SignatureURL: signature.SignatureURL,
				Message:      signature.Message,
			}, sharecard.FileName(signature.AuthorName, signature.SignatureURL), dir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), written)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "Directory to write the card into")
	return cmd
}

func newCoordinator(session *clientSession) (*engagement.Coordinator, error) {
	return engagement.NewCoordinator(engagement.Config{
		Viewer:    session.viewer,
		Likes:     session.client,
		Comments:  session.client,
		Names:     session.client,
		Persister: session.provider,
		Logger:    session.logger,
	})
}

func readDrawing(path string) (compositor.Drawing, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return compositor.Drawing{}, err
	}
	var drawing compositor.Drawing
	if err := json.Unmarshal(raw, &drawing); err != nil {
		return compositor.Drawing{}, fmt.Errorf("decode drawing %s: %w", path, err)
	}
	return drawing, drawing.Validate()
}

func printSignature(out io.Writer, row signatures.Signature, liked bool) {
	marker := " "
	if liked {
		marker = "*"
	}
	replies := "0"
	if row.Reply != nil {
		replies = *row.Reply
	}
	fmt.Fprintf(out, "%s %s  %-15s  %4d likes  %s replies  %s\n",
		marker, row.ID, row.AuthorName, row.Likes, replies, row.Message)
}
