package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"postbot/internal/auth"
	"postbot/internal/errors"
	"postbot/internal/jobs"
	"postbot/internal/services/posting"
)

type call struct {
	req     request
	session auth.Session
}

type handlerFunc func(ctx context.Context, c call) (any, error)

type route struct {
	public bool
	admin  bool
	fn     handlerFunc
}

func (s *Server) routes() map[string]route {
	return map[string]route{
		"get_user_data":      {fn: s.getUserData},
		"schedule_message":   {fn: s.scheduleMessage},
		"create_recurring":   {fn: s.createRecurring},
		"delete_message":     {fn: s.deleteMessage},
		"toggle_recurring":   {fn: s.toggleRecurring},
		"connect_channel":    {fn: s.connectChannel},
		"disconnect_channel": {fn: s.disconnectChannel},
		"save_draft":         {fn: s.saveDraft},
		"scheduler_status":   {fn: s.schedulerStatus, admin: true},
	}
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "ping" {
		writeJSON(w, http.StatusOK, envelope{Success: true, Message: "pong"})
		return
	}
	rt, found := s.table[name]
	if !found {
		s.fail(w, r, errors.Wrapf(errUnknownRoute, "%q", name))
		return
	}

	var c call
	if err := decodeBody(w, r, &c.req); err != nil {
		s.fail(w, r, err)
		return
	}
	if !rt.public {
		sess, err := s.authenticate(r, c.req)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		c.session = sess
	}
	if rt.admin && !s.auth.IsAdmin(c.session.UserID) {
		s.fail(w, r, errNotAdmin)
		return
	}

	data, err := rt.fn(r.Context(), c)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, data)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst *request) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.Malformed(errors.Wrap(err, "request body is not a JSON object"))
	}
	return nil
}

// authenticate verifies init data from the header or the body. A body
// user_id, when present, must name the signed user.
func (s *Server) authenticate(r *http.Request, req request) (auth.Session, error) {
	raw := strings.TrimSpace(r.Header.Get(InitDataHeader))
	if raw == "" {
		raw = strings.TrimSpace(req.InitData)
	}
	if raw == "" {
		return auth.Session{}, errAuthRequired
	}
	sess, err := s.auth.VerifyInitData(raw)
	if err != nil {
		return auth.Session{}, err
	}
	if req.UserID != "" && string(req.UserID) != sess.UserID {
		return auth.Session{}, errUserMismatch
	}
	return sess, nil
}

func (s *Server) getUserData(_ context.Context, c call) (any, error) {
	data := s.posting.List(c.session.UserID)
	data.Stats.IsAdmin = s.auth.IsAdmin(c.session.UserID)
	return data, nil
}

func (s *Server) scheduleMessage(ctx context.Context, c call) (any, error) {
	job, err := s.posting.ScheduleOneShot(ctx, posting.OneShotRequest{
		OwnerID:     c.session.UserID,
		Destination: string(c.req.ChannelID),
		Content:     c.req.Content,
		FireAt:      c.req.Datetime,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":         job.ID,
		"datetime":   job.FireAt.In(s.posting.Location()).Format(posting.TimestampLayout),
		"channel_id": job.Destination,
	}, nil
}

func (s *Server) createRecurring(ctx context.Context, c call) (any, error) {
	if c.req.Recurring == nil {
		return nil, errors.WithHint(errors.Malformedf("recurring is required"),
			`send {"type":"daily|weekly|monthly|custom","time":"HH:MM","days":[...]}`)
	}
	job, err := s.posting.ScheduleRecurring(ctx, posting.RecurringRequest{
		OwnerID:     c.session.UserID,
		Destination: string(c.req.ChannelID),
		Content:     c.req.Content,
		Recurrence:  *c.req.Recurring,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":         job.ID,
		"cron":       job.Schedule,
		"channel_id": job.Destination,
	}, nil
}

// ownedKind resolves the job kind and confirms the caller owns the id.
// Unknown ids resolve with found=false.
func (s *Server) ownedKind(c call) (kind jobs.Kind, found bool, err error) {
	kind, valid := jobs.ParseKind(c.req.Type)
	if !valid {
		return "", false, errors.Malformedf("type must be %q or %q", jobs.KindOneShot, jobs.KindRecurring)
	}
	id := strings.TrimSpace(c.req.MessageID)
	if id == "" {
		return "", false, errors.Malformedf("message_id is required")
	}
	var owner string
	switch kind {
	case jobs.KindOneShot:
		j, ok := s.posting.Store().GetOneShot(id)
		owner, found = j.OwnerID, ok
	case jobs.KindRecurring:
		j, ok := s.posting.Store().GetRecurring(id)
		owner, found = j.OwnerID, ok
	}
	if found && owner != c.session.UserID && !s.auth.IsAdmin(c.session.UserID) {
		return "", false, errors.Mark(errors.Newf("job %s belongs to another user", id), errors.ErrAuthDenied)
	}
	return kind, found, nil
}

func (s *Server) deleteMessage(ctx context.Context, c call) (any, error) {
	kind, found, err := s.ownedKind(c)
	if err != nil {
		return nil, err
	}
	deleted := false
	if found {
		if deleted, err = s.posting.Delete(ctx, strings.TrimSpace(c.req.MessageID), kind); err != nil {
			return nil, err
		}
	}
	return map[string]any{"deleted": deleted}, nil
}

func (s *Server) toggleRecurring(ctx context.Context, c call) (any, error) {
	c.req.Type = string(jobs.KindRecurring)
	_, found, err := s.ownedKind(c)
	if err != nil {
		return nil, err
	}
	if !found {
		return map[string]any{"found": false}, nil
	}
	job, found, err := s.posting.Toggle(ctx, strings.TrimSpace(c.req.MessageID), c.req.Active)
	if err != nil {
		return nil, err
	}
	return map[string]any{"found": found, "id": job.ID, "active": job.Active}, nil
}

func (s *Server) connectChannel(ctx context.Context, c call) (any, error) {
	dest, err := s.posting.ConnectChannel(ctx, c.session.UserID, string(c.req.ChannelID))
	if err != nil {
		return nil, err
	}
	return map[string]any{"channel_id": dest}, nil
}

func (s *Server) disconnectChannel(ctx context.Context, c call) (any, error) {
	return nil, s.posting.DisconnectChannel(ctx, c.session.UserID)
}

// saveDraft acknowledges drafts; they are kept client side.
func (s *Server) saveDraft(_ context.Context, c call) (any, error) {
	if strings.TrimSpace(c.req.Content) == "" {
		return nil, errors.Malformedf("content is required")
	}
	return nil, nil
}

func (s *Server) schedulerStatus(ctx context.Context, _ call) (any, error) {
	if s.status == nil {
		return map[string]any{}, nil
	}
	return s.status(ctx)
}
