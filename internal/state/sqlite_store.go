package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/MicKaranja/cms/db/migrations"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// database/sql pools connections; sqlite needs a single writer.
	db.SetMaxOpenConns(1)
	store := &SQLiteStore{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMP NOT NULL)`); err != nil {
		return err
	}
	files, err := listMigrationFiles(migrations.Files)
	if err != nil {
		return err
	}
	for _, file := range files {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)`, file).Scan(&exists); err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := s.applyMigration(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) applyMigration(ctx context.Context, file string) error {
	sqlBytes, err := migrations.Files.ReadFile(file)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		return fmt.Errorf("apply migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, file, time.Now().UTC()); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	return tx.Commit()
}

func listMigrationFiles(migFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migFS, ".")
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func (s *SQLiteStore) CreateContest(ctx context.Context, c ContestRecord) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contests (id, name, description, token_initial, token_max, token_total, token_min_interval, token_gen_time, token_gen_number, start, stop, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Name, c.Description, c.TokenInitial, nullInt(c.TokenMax), nullInt(c.TokenTotal), nullInt(c.TokenMinInterval), nullInt(c.TokenGenTime), nullInt(c.TokenGenNumber), c.Start, c.Stop, c.CreatedAt, c.UpdatedAt)
	return err
}

func (s *SQLiteStore) scanContest(row *sql.Row) (ContestRecord, bool, error) {
	var c ContestRecord
	var max, total, minInterval, genTime, genNumber sql.NullInt64
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.TokenInitial, &max, &total, &minInterval, &genTime, &genNumber, &c.Start, &c.Stop, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return ContestRecord{}, false, nil
	}
	if err != nil {
		return ContestRecord{}, false, err
	}
	c.TokenMax, c.TokenTotal, c.TokenMinInterval = intPtr(max), intPtr(total), intPtr(minInterval)
	c.TokenGenTime, c.TokenGenNumber = intPtr(genTime), intPtr(genNumber)
	return c, true, nil
}

func (s *SQLiteStore) GetContest(ctx context.Context, contestID string) (ContestRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, token_initial, token_max, token_total, token_min_interval, token_gen_time, token_gen_number, start, stop, created_at, updated_at
		 FROM contests WHERE id = ?`, contestID)
	return s.scanContest(row)
}

func (s *SQLiteStore) UpdateContest(ctx context.Context, c ContestRecord) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE contests SET name=?, description=?, token_initial=?, token_max=?, token_total=?, token_min_interval=?, token_gen_time=?, token_gen_number=?, start=?, stop=?, updated_at=? WHERE id=?`,
		c.Name, c.Description, c.TokenInitial, nullInt(c.TokenMax), nullInt(c.TokenTotal), nullInt(c.TokenMinInterval), nullInt(c.TokenGenTime), nullInt(c.TokenGenNumber), c.Start, c.Stop, time.Now().UTC(), c.ID)
	if err != nil {
		return err
	}
	return requireRow(res, "contest", c.ID)
}

func (s *SQLiteStore) ListContests(ctx context.Context) ([]ContestRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, token_initial, token_max, token_total, token_min_interval, token_gen_time, token_gen_number, start, stop, created_at, updated_at
		 FROM contests ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ContestRecord, 0, 8)
	for rows.Next() {
		var c ContestRecord
		var max, total, minInterval, genTime, genNumber sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.TokenInitial, &max, &total, &minInterval, &genTime, &genNumber, &c.Start, &c.Stop, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.TokenMax, c.TokenTotal, c.TokenMinInterval = intPtr(max), intPtr(total), intPtr(minInterval)
		c.TokenGenTime, c.TokenGenNumber = intPtr(genTime), intPtr(genNumber)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateTask(ctx context.Context, t TaskRecord) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	params, err := json.Marshal(t.TaskTypeParameters)
	if err != nil {
		return err
	}
	format, err := json.Marshal(t.SubmissionFormat)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, contest_id, num, name, title, time_limit, memory_limit, task_type, task_type_parameters, score_type, score_parameters, submission_format, statement_digest, token_initial, token_max, token_total, token_min_interval, token_gen_time, token_gen_number, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ContestID, t.Num, t.Name, t.Title, t.TimeLimit, t.MemoryLimit, t.TaskType, string(params), t.ScoreType, t.ScoreParameters, string(format), t.StatementDigest,
		t.TokenInitial, nullInt(t.TokenMax), nullInt(t.TokenTotal), nullInt(t.TokenMinInterval), nullInt(t.TokenGenTime), nullInt(t.TokenGenNumber), t.CreatedAt, t.UpdatedAt)
	return err
}

const taskColumns = `id, contest_id, num, name, title, time_limit, memory_limit, task_type, task_type_parameters, score_type, score_parameters, submission_format, statement_digest, token_initial, token_max, token_total, token_min_interval, token_gen_time, token_gen_number, created_at, updated_at`

func scanTask(scan func(dest ...any) error) (TaskRecord, error) {
	var t TaskRecord
	var params, format string
	var max, total, minInterval, genTime, genNumber sql.NullInt64
	err := scan(&t.ID, &t.ContestID, &t.Num, &t.Name, &t.Title, &t.TimeLimit, &t.MemoryLimit, &t.TaskType, &params, &t.ScoreType, &t.ScoreParameters, &format, &t.StatementDigest,
		&t.TokenInitial, &max, &total, &minInterval, &genTime, &genNumber, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return TaskRecord{}, err
	}
	if err := json.Unmarshal([]byte(params), &t.TaskTypeParameters); err != nil {
		return TaskRecord{}, fmt.Errorf("decode task_type_parameters: %w", err)
	}
	if err := json.Unmarshal([]byte(format), &t.SubmissionFormat); err != nil {
		return TaskRecord{}, fmt.Errorf("decode submission_format: %w", err)
	}
	t.TokenMax, t.TokenTotal, t.TokenMinInterval = intPtr(max), intPtr(total), intPtr(minInterval)
	t.TokenGenTime, t.TokenGenNumber = intPtr(genTime), intPtr(genNumber)
	return t, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (TaskRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return TaskRecord{}, false, nil
	}
	if err != nil {
		return TaskRecord{}, false, err
	}
	return t, true, nil
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, t TaskRecord) error {
	params, err := json.Marshal(t.TaskTypeParameters)
	if err != nil {
		return err
	}
	format, err := json.Marshal(t.SubmissionFormat)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET num=?, name=?, title=?, time_limit=?, memory_limit=?, task_type=?, task_type_parameters=?, score_type=?, score_parameters=?, submission_format=?, token_initial=?, token_max=?, token_total=?, token_min_interval=?, token_gen_time=?, token_gen_number=?, updated_at=? WHERE id=?`,
		t.Num, t.Name, t.Title, t.TimeLimit, t.MemoryLimit, t.TaskType, string(params), t.ScoreType, t.ScoreParameters, string(format),
		t.TokenInitial, nullInt(t.TokenMax), nullInt(t.TokenTotal), nullInt(t.TokenMinInterval), nullInt(t.TokenGenTime), nullInt(t.TokenGenNumber), time.Now().UTC(), t.ID)
	if err != nil {
		return err
	}
	return requireRow(res, "task", t.ID)
}

func (s *SQLiteStore) ListTasksByContest(ctx context.Context, contestID string) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE contest_id = ? ORDER BY num`, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]TaskRecord, 0, 8)
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetTaskStatement(ctx context.Context, taskID, digest string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET statement_digest=?, updated_at=? WHERE id=?`, digest, time.Now().UTC(), taskID)
	if err != nil {
		return err
	}
	return requireRow(res, "task", taskID)
}

func (s *SQLiteStore) AddTestcase(ctx context.Context, tc TestcaseRecord) error {
	if tc.CreatedAt.IsZero() {
		tc.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO testcases (id, task_id, num, input_digest, output_digest, public, created_at) VALUES (?,?,?,?,?,?,?)`,
		tc.ID, tc.TaskID, tc.Num, tc.InputDigest, tc.OutputDigest, tc.Public, tc.CreatedAt)
	return err
}

func (s *SQLiteStore) ListTestcasesByTask(ctx context.Context, taskID string) ([]TestcaseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, num, input_digest, output_digest, public, created_at FROM testcases WHERE task_id = ? ORDER BY num`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]TestcaseRecord, 0, 8)
	for rows.Next() {
		var tc TestcaseRecord
		if err := rows.Scan(&tc.ID, &tc.TaskID, &tc.Num, &tc.InputDigest, &tc.OutputDigest, &tc.Public, &tc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteTestcase(ctx context.Context, testcaseID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM testcases WHERE id = ?`, testcaseID)
	if err != nil {
		return err
	}
	return requireRow(res, "testcase", testcaseID)
}

func (s *SQLiteStore) AddAttachment(ctx context.Context, a AttachmentRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO attachments (id, task_id, filename, digest) VALUES (?,?,?,?)`, a.ID, a.TaskID, a.Filename, a.Digest)
	return err
}

func (s *SQLiteStore) ListAttachmentsByTask(ctx context.Context, taskID string) ([]AttachmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, task_id, filename, digest FROM attachments WHERE task_id = ? ORDER BY filename`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]AttachmentRecord, 0, 4)
	for rows.Next() {
		var a AttachmentRecord
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Filename, &a.Digest); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteAttachment(ctx context.Context, attachmentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = ?`, attachmentID)
	if err != nil {
		return err
	}
	return requireRow(res, "attachment", attachmentID)
}

func (s *SQLiteStore) AddManager(ctx context.Context, m ManagerRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO managers (id, task_id, filename, digest) VALUES (?,?,?,?)`, m.ID, m.TaskID, m.Filename, m.Digest)
	return err
}

func (s *SQLiteStore) ListManagersByTask(ctx context.Context, taskID string) ([]ManagerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, task_id, filename, digest FROM managers WHERE task_id = ? ORDER BY filename`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ManagerRecord, 0, 4)
	for rows.Next() {
		var m ManagerRecord
		if err := rows.Scan(&m.ID, &m.TaskID, &m.Filename, &m.Digest); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteManager(ctx context.Context, managerID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM managers WHERE id = ?`, managerID)
	if err != nil {
		return err
	}
	return requireRow(res, "manager", managerID)
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u UserRecord) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, contest_id, real_name, username, password, ip, hidden, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		u.ID, u.ContestID, u.RealName, u.Username, u.Password, u.IP, u.Hidden, u.CreatedAt, u.UpdatedAt)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", ErrDuplicateUsername, u.Username)
	}
	return err
}

func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (UserRecord, bool, error) {
	var u UserRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, contest_id, real_name, username, password, ip, hidden, created_at, updated_at FROM users WHERE id = ?`, userID).
		Scan(&u.ID, &u.ContestID, &u.RealName, &u.Username, &u.Password, &u.IP, &u.Hidden, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return UserRecord{}, false, nil
	}
	if err != nil {
		return UserRecord{}, false, err
	}
	return u, true, nil
}

func (s *SQLiteStore) UpdateUser(ctx context.Context, u UserRecord) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET real_name=?, username=?, password=?, ip=?, hidden=?, updated_at=? WHERE id=?`,
		u.RealName, u.Username, u.Password, u.IP, u.Hidden, time.Now().UTC(), u.ID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicateUsername, u.Username)
		}
		return err
	}
	return requireRow(res, "user", u.ID)
}

func (s *SQLiteStore) ListUsersByContest(ctx context.Context, contestID string) ([]UserRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contest_id, real_name, username, password, ip, hidden, created_at, updated_at FROM users WHERE contest_id = ? ORDER BY username`, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]UserRecord, 0, 16)
	for rows.Next() {
		var u UserRecord
		if err := rows.Scan(&u.ID, &u.ContestID, &u.RealName, &u.Username, &u.Password, &u.IP, &u.Hidden, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateSubmission(ctx context.Context, sub SubmissionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, user_id, task_id, timestamp, status) VALUES (?,?,?,?,?)`,
		sub.ID, sub.UserID, sub.TaskID, sub.Timestamp, sub.Status)
	return err
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, submissionID string) (SubmissionRecord, bool, error) {
	var sub SubmissionRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, task_id, timestamp, status FROM submissions WHERE id = ?`, submissionID).
		Scan(&sub.ID, &sub.UserID, &sub.TaskID, &sub.Timestamp, &sub.Status)
	if err == sql.ErrNoRows {
		return SubmissionRecord{}, false, nil
	}
	if err != nil {
		return SubmissionRecord{}, false, err
	}
	return sub, true, nil
}

func (s *SQLiteStore) listSubmissions(ctx context.Context, where, val string) ([]SubmissionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, task_id, timestamp, status FROM submissions WHERE `+where+` = ? ORDER BY timestamp`, val)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]SubmissionRecord, 0, 16)
	for rows.Next() {
		var sub SubmissionRecord
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.TaskID, &sub.Timestamp, &sub.Status); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListSubmissionsByTask(ctx context.Context, taskID string) ([]SubmissionRecord, error) {
	return s.listSubmissions(ctx, "task_id", taskID)
}

func (s *SQLiteStore) ListSubmissionsByUser(ctx context.Context, userID string) ([]SubmissionRecord, error) {
	return s.listSubmissions(ctx, "user_id", userID)
}

func (s *SQLiteStore) SetSubmissionStatus(ctx context.Context, submissionID, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE submissions SET status=? WHERE id=?`, status, submissionID)
	if err != nil {
		return err
	}
	return requireRow(res, "submission", submissionID)
}

func (s *SQLiteStore) CreateQuestion(ctx context.Context, q QuestionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO questions (id, user_id, contest_id, question_timestamp, subject, text, reply_subject, reply_text, reply_timestamp) VALUES (?,?,?,?,?,?,?,?,?)`,
		q.ID, q.UserID, q.ContestID, q.QuestionTimestamp, q.Subject, q.Text, q.ReplySubject, q.ReplyText, nullInt64(q.ReplyTimestamp))
	return err
}

func (s *SQLiteStore) GetQuestion(ctx context.Context, questionID string) (QuestionRecord, bool, error) {
	var q QuestionRecord
	var reply sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, contest_id, question_timestamp, subject, text, reply_subject, reply_text, reply_timestamp FROM questions WHERE id = ?`, questionID).
		Scan(&q.ID, &q.UserID, &q.ContestID, &q.QuestionTimestamp, &q.Subject, &q.Text, &q.ReplySubject, &q.ReplyText, &reply)
	if err == sql.ErrNoRows {
		return QuestionRecord{}, false, nil
	}
	if err != nil {
		return QuestionRecord{}, false, err
	}
	if reply.Valid {
		ts := reply.Int64
		q.ReplyTimestamp = &ts
	}
	return q, true, nil
}

func (s *SQLiteStore) ListQuestionsByContest(ctx context.Context, contestID string) ([]QuestionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, contest_id, question_timestamp, subject, text, reply_subject, reply_text, reply_timestamp FROM questions WHERE contest_id = ? ORDER BY question_timestamp`, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]QuestionRecord, 0, 16)
	for rows.Next() {
		var q QuestionRecord
		var reply sql.NullInt64
		if err := rows.Scan(&q.ID, &q.UserID, &q.ContestID, &q.QuestionTimestamp, &q.Subject, &q.Text, &q.ReplySubject, &q.ReplyText, &reply); err != nil {
			return nil, err
		}
		if reply.Valid {
			ts := reply.Int64
			q.ReplyTimestamp = &ts
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ReplyQuestion(ctx context.Context, questionID, subject, text string, timestamp int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET reply_subject=?, reply_text=?, reply_timestamp=? WHERE id=?`, subject, text, timestamp, questionID)
	if err != nil {
		return err
	}
	return requireRow(res, "question", questionID)
}

func (s *SQLiteStore) CountUnansweredQuestions(ctx context.Context, since int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM questions WHERE reply_timestamp IS NULL AND question_timestamp > ?`, since).Scan(&count)
	return count, err
}

func (s *SQLiteStore) ListUnansweredQuestions(ctx context.Context, since int64) ([]QuestionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, contest_id, question_timestamp, subject, text, reply_subject, reply_text, reply_timestamp FROM questions WHERE reply_timestamp IS NULL AND question_timestamp > ? ORDER BY question_timestamp`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]QuestionRecord, 0, 4)
	for rows.Next() {
		var q QuestionRecord
		var reply sql.NullInt64
		if err := rows.Scan(&q.ID, &q.UserID, &q.ContestID, &q.QuestionTimestamp, &q.Subject, &q.Text, &q.ReplySubject, &q.ReplyText, &reply); err != nil {
			return nil, err
		}
		if reply.Valid {
			ts := reply.Int64
			q.ReplyTimestamp = &ts
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateAnnouncement(ctx context.Context, a AnnouncementRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO announcements (id, contest_id, timestamp, subject, text) VALUES (?,?,?,?,?)`,
		a.ID, a.ContestID, a.Timestamp, a.Subject, a.Text)
	return err
}

func (s *SQLiteStore) ListAnnouncementsByContest(ctx context.Context, contestID string) ([]AnnouncementRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contest_id, timestamp, subject, text FROM announcements WHERE contest_id = ? ORDER BY timestamp`, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]AnnouncementRecord, 0, 8)
	for rows.Next() {
		var a AnnouncementRecord
		if err := rows.Scan(&a.ID, &a.ContestID, &a.Timestamp, &a.Subject, &a.Text); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteAnnouncement(ctx context.Context, announcementID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM announcements WHERE id = ?`, announcementID)
	if err != nil {
		return err
	}
	return requireRow(res, "announcement", announcementID)
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, m MessageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, user_id, timestamp, subject, text) VALUES (?,?,?,?,?)`,
		m.ID, m.UserID, m.Timestamp, m.Subject, m.Text)
	return err
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return nil
}
