package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"ranked-match-system/middleware"
	"ranked-match-system/models"
	"ranked-match-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupMatchmakingRoutes registers the participant-facing surface of the
// orchestrator. Everything sits behind gateway auth (global) and user context.
func SetupMatchmakingRoutes(
	app *fiber.App,
	queue *services.QueueService,
	proposals *services.ProposalService,
	verification *services.VerificationService,
	live *services.LiveMatchService,
	registry *services.SessionRegistry,
	store services.Store,
) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	// Queue
	secured.Post("/queue/join", joinQueue(queue))
	secured.Post("/queue/leave", leaveQueue(queue))

	// Proposals
	secured.Post("/proposals/:id/accept", acceptProposal(proposals))
	secured.Post("/proposals/:id/decline", declineProposal(proposals))

	// Verification
	secured.Post("/matches/:id/probe", probeMatch(verification))
	secured.Post("/matches/:id/verified", markVerified(verification))
	secured.Post("/matches/:id/ready", markReady(verification))
	secured.Post("/matches/:id/failure", reportFailure(verification))

	// Live match events
	secured.Post("/matches/:id/events", liveMatchEvent(live))

	// Event stream + profile display
	secured.Get("/events", streamEvents(registry))
	secured.Get("/profiles/me", getOwnProfile(store))
}

// respondError maps the domain error taxonomy onto HTTP statuses.
func respondError(c *fiber.Ctx, err error) error {
	kind, ok := services.KindOf(err)
	if !ok {
		log.Printf("❌ [HTTP] unexpected error on %s: %v", c.Path(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}

	status := fiber.StatusInternalServerError
	switch kind {
	case services.KindValidation:
		status = fiber.StatusBadRequest
	case services.KindNotFound:
		status = fiber.StatusNotFound
	case services.KindConflict:
		status = fiber.StatusConflict
	case services.KindPrecondition:
		status = fiber.StatusPreconditionFailed
	case services.KindPersistence:
		status = fiber.StatusServiceUnavailable
	}
	resp := fiber.Map{"error": err.Error()}
	if kind == services.KindPersistence {
		resp["retryable"] = true
	}
	return c.Status(status).JSON(resp)
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func displayName(c *fiber.Ctx) string {
	if name := c.Get("X-User-Name"); name != "" {
		return name
	}
	return userID(c)
}

func joinQueue(queue *services.QueueService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			Mode string `json:"mode"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		mode, err := models.ParseMode(req.Mode)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}

		status, err := queue.Enqueue(userID(c), displayName(c), mode)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(200).JSON(status)
	}
}

func leaveQueue(queue *services.QueueService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			Mode string `json:"mode"`
		}
		// Empty body means leave every mode.
		_ = c.BodyParser(&req)

		var mode *models.Mode
		if req.Mode != "" {
			m, err := models.ParseMode(req.Mode)
			if err != nil {
				return c.Status(400).JSON(fiber.Map{"error": err.Error()})
			}
			mode = &m
		}
		queue.Dequeue(userID(c), mode)
		return c.JSON(fiber.Map{"message": "left queue"})
	}
}

func acceptProposal(proposals *services.ProposalService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		allAccepted, err := proposals.Accept(c.Params("id"), userID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"all_accepted": allAccepted})
	}
}

func declineProposal(proposals *services.ProposalService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := proposals.Decline(c.Params("id"), userID(c)); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"message": "declined"})
	}
}

func probeMatch(verification *services.VerificationService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			ClientTimestamp int64 `json:"client_ts"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		echo, err := verification.Probe(c.Params("id"), userID(c), req.ClientTimestamp)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(echo)
	}
}

func markVerified(verification *services.VerificationService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := verification.MarkVerified(c.Params("id"), userID(c)); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"message": "verified"})
	}
}

func markReady(verification *services.VerificationService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := verification.MarkReady(c.Params("id"), userID(c)); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"message": "ready"})
	}
}

func reportFailure(verification *services.VerificationService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			Reason string `json:"reason"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
		if req.Reason == "" {
			req.Reason = "unspecified"
		}
		if err := verification.ReportFailure(c.Params("id"), userID(c), req.Reason); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"message": "failure reported"})
	}
}

// liveMatchEvent dispatches the small, frequent gameplay events by type.
func liveMatchEvent(live *services.LiveMatchService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req struct {
			Type        string `json:"type"`
			AssistID    string `json:"assist_id"`
			Share0      int    `json:"share_0"`
			Share1      int    `json:"share_1"`
			Description string `json:"description"`
			WinningSide *int   `json:"winning_side"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}

		matchID := c.Params("id")
		uid := userID(c)

		var err error
		switch req.Type {
		case "touch":
			err = live.Touch(matchID, uid)
		case "kick":
			err = live.Kick(matchID, uid)
		case "goal":
			err = live.Goal(matchID, uid, req.AssistID)
		case "own-goal":
			err = live.OwnGoal(matchID, uid)
		case "possession":
			err = live.Possession(matchID, uid, req.Share0, req.Share1)
		case "disconnect":
			err = live.Disconnect(matchID, uid)
		case "reconnect":
			err = live.Reconnect(matchID, uid)
		case "technical-issue":
			err = live.TechnicalIssue(matchID, uid, req.Description)
		case "timeout-request":
			err = live.TimeoutRequest(matchID, uid)
		case "timeout-end":
			err = live.TimeoutEnd(matchID, uid)
		case "match-end":
			if req.WinningSide == nil {
				return c.Status(400).JSON(fiber.Map{"error": "winning_side is required for match-end"})
			}
			var summary *services.MatchSummary
			summary, err = live.Settle(matchID, *req.WinningSide)
			if err == nil {
				return c.JSON(summary)
			}
		default:
			return c.Status(400).JSON(fiber.Map{"error": fmt.Sprintf("unknown event type %q", req.Type)})
		}

		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"message": "ok"})
	}
}

// streamEvents bridges the participant's registered event channel onto an SSE
// stream.
func streamEvents(registry *services.SessionRegistry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		uid := userID(c)

		// SSE headers
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no") // nginx

		events := registry.Register(uid)

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer registry.Unregister(uid, events)

			keepalive := time.NewTicker(15 * time.Second)
			defer keepalive.Stop()

			// Initial keepalive (comment event)
			w.WriteString(":\n\n")
			if err := w.Flush(); err != nil {
				return
			}

			for {
				select {
				case ev, ok := <-events:
					if !ok {
						// Displaced by a newer connection.
						return
					}
					payload, _ := json.Marshal(ev.Payload)
					fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, payload)
					if err := w.Flush(); err != nil {
						return
					}
				case <-keepalive.C:
					w.WriteString(":\n\n")
					if err := w.Flush(); err != nil {
						return
					}
				case <-c.Context().Done():
					return
				}
			}
		})

		return nil
	}
}

// getOwnProfile returns the caller's rating and display rank for one mode.
func getOwnProfile(store services.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		mode, err := models.ParseMode(c.Query("mode", string(models.Mode1v1)))
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}

		profile, err := store.GetRatingProfile(userID(c), mode)
		if err != nil {
			return respondError(c, services.NewPersistenceError("loading rating profile", err))
		}
		return c.JSON(fiber.Map{
			"participant_id": profile.ParticipantID,
			"mode":           profile.Mode,
			"rating":         profile.Rating,
			"games_played":   profile.GamesPlayed,
			"rank":           services.RankFor(profile.Rating),
		})
	}
}
