package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"formhooks/internal/model"
)

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

// SQL is a database/sql backed Store. Queries are written with Postgres
// placeholders and rebound for SQLite, so each $n must appear once and in
// ascending order.
type SQL struct {
	db      *sql.DB
	dialect string
}

// NewPostgres connects through the pgx stdlib driver.
func NewPostgres(dsn string) (*SQL, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQL{db: db, dialect: dialectPostgres}, nil
}

// NewSQLite opens (creating if needed) a SQLite database file.
func NewSQLite(path string) (*SQL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	// single writer connection for SQLite
	db.SetMaxOpenConns(1)
	return &SQL{db: db, dialect: dialectSQLite}, nil
}

func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQL) Close() error { return s.db.Close() }

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// q rewrites $n placeholders to ? for SQLite.
func (s *SQL) q(query string) string {
	if s.dialect != dialectSQLite {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?")
}

func (s *SQL) timeArg(t time.Time) any {
	if s.dialect == dialectSQLite {
		return formatTime(t)
	}
	return t.UTC()
}

func (s *SQL) CreateForm(ctx context.Context, ownerID string, in model.FormInput) (model.Form, error) {
	f := model.Form{ID: uuid.New().String(), OwnerID: ownerID, Title: in.Title, Fields: in.Fields, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO forms (id, owner_id, title, fields, created_at) VALUES ($1,$2,$3,$4,$5)`),
		f.ID, f.OwnerID, f.Title, rawOrNil(f.Fields), s.timeArg(f.CreatedAt))
	if err != nil {
		return model.Form{}, fmt.Errorf("inserting form: %w", err)
	}
	return f, nil
}

func (s *SQL) GetForm(ctx context.Context, id string) (model.Form, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT id, owner_id, title, fields, created_at FROM forms WHERE id=$1`), id)
	f, err := scanForm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Form{}, ErrNotFound
	}
	return f, err
}

func (s *SQL) ListForms(ctx context.Context, ownerID, cursor string, limit int) ([]model.Form, string, error) {
	limit = clampPage(limit)
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, owner_id, title, fields, created_at FROM forms WHERE owner_id=$1 AND id > $2 ORDER BY id LIMIT $3`), ownerID, cursor, limit)
	if err != nil {
		return nil, "", fmt.Errorf("listing forms: %w", err)
	}
	defer rows.Close()
	out := []model.Form{}
	for rows.Next() {
		f, err := scanForm(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (s *SQL) CreateSubmission(ctx context.Context, formID string, data map[string]any) (model.Submission, error) {
	if data == nil {
		data = map[string]any{}
	}
	if _, err := s.GetForm(ctx, formID); err != nil {
		return model.Submission{}, err
	}
	sub := model.Submission{ID: uuid.New().String(), FormID: formID, Data: data, CreatedAt: time.Now().UTC()}
	b, err := json.Marshal(data)
	if err != nil {
		return model.Submission{}, fmt.Errorf("marshaling submission: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO submissions (id, form_id, data, created_at) VALUES ($1,$2,$3,$4)`),
		sub.ID, formID, string(b), s.timeArg(sub.CreatedAt))
	if err != nil {
		return model.Submission{}, fmt.Errorf("inserting submission: %w", err)
	}
	return sub, nil
}

func (s *SQL) ListSubmissions(ctx context.Context, formID, cursor string, limit int) ([]model.Submission, string, error) {
	limit = clampPage(limit)
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, form_id, data, created_at FROM submissions WHERE form_id=$1 AND id > $2 ORDER BY id LIMIT $3`), formID, cursor, limit)
	if err != nil {
		return nil, "", fmt.Errorf("listing submissions: %w", err)
	}
	defer rows.Close()
	out := []model.Submission{}
	for rows.Next() {
		var sub model.Submission
		var data []byte
		var created string
		if err := rows.Scan(&sub.ID, &sub.FormID, &data, &created); err != nil {
			return nil, "", fmt.Errorf("scanning submission: %w", err)
		}
		_ = json.Unmarshal(data, &sub.Data)
		sub.CreatedAt = parseTime(created)
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (s *SQL) CreateWebhook(ctx context.Context, w model.Webhook) (model.Webhook, error) {
	now := time.Now().UTC()
	w.ID = uuid.New().String()
	w.CreatedAt = now
	w.UpdatedAt = now
	ev, err := json.Marshal(w.Events)
	if err != nil {
		return model.Webhook{}, fmt.Errorf("marshaling events: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO webhooks (id, owner_id, form_id, url, secret, events, active, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`),
		w.ID, w.OwnerID, nullableString(w.FormID), w.URL, w.Secret, string(ev), w.Active, s.timeArg(now), s.timeArg(now))
	if err != nil {
		return model.Webhook{}, fmt.Errorf("inserting webhook: %w", err)
	}
	return w, nil
}

const webhookColumns = `id, owner_id, form_id, url, secret, events, active, last_triggered_at, created_at, updated_at`

func (s *SQL) GetWebhook(ctx context.Context, id string) (model.Webhook, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+webhookColumns+` FROM webhooks WHERE id=$1`), id)
	w, err := scanWebhook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Webhook{}, ErrNotFound
	}
	return w, err
}

func (s *SQL) ListWebhooks(ctx context.Context, ownerID string) ([]model.Webhook, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+webhookColumns+` FROM webhooks WHERE owner_id=$1 ORDER BY created_at, id`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	return collectWebhooks(rows, nil)
}

func (s *SQL) UpdateWebhook(ctx context.Context, ownerID, id string, patch model.WebhookPatch) (model.Webhook, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Webhook{}, err
	}
	defer func() { _ = tx.Rollback() }()

	w, err := scanWebhook(tx.QueryRowContext(ctx, s.q(`SELECT `+webhookColumns+` FROM webhooks WHERE id=$1 AND owner_id=$2`), id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Webhook{}, ErrNotFound
	}
	if err != nil {
		return model.Webhook{}, err
	}
	applyPatch(&w, patch)
	w.UpdatedAt = time.Now().UTC()
	ev, err := json.Marshal(w.Events)
	if err != nil {
		return model.Webhook{}, fmt.Errorf("marshaling events: %w", err)
	}
	_, err = tx.ExecContext(ctx, s.q(`UPDATE webhooks SET url=$1, form_id=$2, events=$3, active=$4, updated_at=$5 WHERE id=$6`),
		w.URL, nullableString(w.FormID), string(ev), w.Active, s.timeArg(w.UpdatedAt), w.ID)
	if err != nil {
		return model.Webhook{}, fmt.Errorf("updating webhook: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Webhook{}, err
	}
	return w, nil
}

func (s *SQL) DeleteWebhook(ctx context.Context, ownerID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM webhooks WHERE id=$1 AND owner_id=$2`), id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting webhook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM webhook_logs WHERE webhook_id=$1`), id); err != nil {
		return fmt.Errorf("deleting webhook logs: %w", err)
	}
	return tx.Commit()
}

// FindWebhooks narrows by owner, scope and active in SQL; event membership is
// checked on the decoded list so the query stays portable.
func (s *SQL) FindWebhooks(ctx context.Context, f model.WebhookFilter) ([]model.Webhook, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+webhookColumns+` FROM webhooks
		WHERE owner_id=$1 AND active=$2 AND (form_id IS NULL OR form_id=$3) ORDER BY created_at, id`), f.OwnerID, true, f.FormID)
	if err != nil {
		return nil, fmt.Errorf("finding webhooks: %w", err)
	}
	return collectWebhooks(rows, func(w model.Webhook) bool { return w.Matches(f.FormID, f.Event) })
}

func (s *SQL) TouchWebhook(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE webhooks SET last_triggered_at=$1 WHERE id=$2`), s.timeArg(at), id)
	return err
}

func (s *SQL) CreateWebhookLog(ctx context.Context, rec model.DeliveryLog) (model.DeliveryLog, error) {
	rec.ID = uuid.New().String()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var errText any
	if rec.Error != nil {
		errText = *rec.Error
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO webhook_logs (id, webhook_id, event, request_payload, response_body, status_code, success, error, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`),
		rec.ID, rec.WebhookID, rec.Event, string(rec.RequestPayload), rawOrNil(rec.ResponseBody), rec.StatusCode, rec.Success, errText, s.timeArg(rec.CreatedAt))
	if err != nil {
		// The foreign key rejects logs for a deleted webhook.
		if _, gerr := s.GetWebhook(ctx, rec.WebhookID); errors.Is(gerr, ErrNotFound) {
			return model.DeliveryLog{}, ErrNotFound
		}
		return model.DeliveryLog{}, fmt.Errorf("inserting webhook log: %w", err)
	}
	return rec, nil
}

func (s *SQL) ListWebhookLogs(ctx context.Context, webhookID string, limit int) ([]model.DeliveryLog, error) {
	limit = clampLogLimit(limit)
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, webhook_id, event, request_payload, response_body, status_code, success, error, created_at
		FROM webhook_logs WHERE webhook_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`), webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing webhook logs: %w", err)
	}
	defer rows.Close()
	out := []model.DeliveryLog{}
	for rows.Next() {
		var rec model.DeliveryLog
		var req []byte
		var resp sql.NullString
		var errText sql.NullString
		var created string
		if err := rows.Scan(&rec.ID, &rec.WebhookID, &rec.Event, &req, &resp, &rec.StatusCode, &rec.Success, &errText, &created); err != nil {
			return nil, fmt.Errorf("scanning webhook log: %w", err)
		}
		rec.RequestPayload = json.RawMessage(req)
		if resp.Valid {
			rec.ResponseBody = json.RawMessage(resp.String)
		}
		if errText.Valid {
			e := errText.String
			rec.Error = &e
		}
		rec.CreatedAt = parseTime(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanForm(sc scanner) (model.Form, error) {
	var f model.Form
	var fields sql.NullString
	var created string
	if err := sc.Scan(&f.ID, &f.OwnerID, &f.Title, &fields, &created); err != nil {
		return f, err
	}
	if fields.Valid && fields.String != "" {
		f.Fields = json.RawMessage(fields.String)
	}
	f.CreatedAt = parseTime(created)
	return f, nil
}

func scanWebhook(sc scanner) (model.Webhook, error) {
	var w model.Webhook
	var formID, lastTriggered sql.NullString
	var events []byte
	var created, updated string
	if err := sc.Scan(&w.ID, &w.OwnerID, &formID, &w.URL, &w.Secret, &events, &w.Active, &lastTriggered, &created, &updated); err != nil {
		return w, err
	}
	if formID.Valid {
		f := formID.String
		w.FormID = &f
	}
	if err := json.Unmarshal(events, &w.Events); err != nil {
		w.Events = []string{}
	}
	if lastTriggered.Valid {
		t := parseTime(lastTriggered.String)
		w.LastTriggeredAt = &t
	}
	w.CreatedAt = parseTime(created)
	w.UpdatedAt = parseTime(updated)
	return w, nil
}

func collectWebhooks(rows *sql.Rows, keep func(model.Webhook) bool) ([]model.Webhook, error) {
	defer rows.Close()
	out := []model.Webhook{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook: %w", err)
		}
		if keep == nil || keep(w) {
			out = append(out, w)
		}
	}
	return out, rows.Err()
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func rawOrNil(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
