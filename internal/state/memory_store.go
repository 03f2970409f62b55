package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu            sync.Mutex
	contests      map[string]ContestRecord
	tasks         map[string]TaskRecord
	testcases     map[string]TestcaseRecord
	attachments   map[string]AttachmentRecord
	managers      map[string]ManagerRecord
	users         map[string]UserRecord
	submissions   map[string]SubmissionRecord
	questions     map[string]QuestionRecord
	announcements map[string]AnnouncementRecord
	messages      map[string]MessageRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contests:      make(map[string]ContestRecord),
		tasks:         make(map[string]TaskRecord),
		testcases:     make(map[string]TestcaseRecord),
		attachments:   make(map[string]AttachmentRecord),
		managers:      make(map[string]ManagerRecord),
		users:         make(map[string]UserRecord),
		submissions:   make(map[string]SubmissionRecord),
		questions:     make(map[string]QuestionRecord),
		announcements: make(map[string]AnnouncementRecord),
		messages:      make(map[string]MessageRecord),
	}
}

func (m *MemoryStore) CreateContest(_ context.Context, contest ContestRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if contest.CreatedAt.IsZero() {
		contest.CreatedAt = now
	}
	contest.UpdatedAt = now
	m.contests[contest.ID] = contest
	return nil
}

func (m *MemoryStore) GetContest(_ context.Context, contestID string) (ContestRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contests[contestID]
	return c, ok, nil
}

func (m *MemoryStore) UpdateContest(_ context.Context, contest ContestRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.contests[contest.ID]
	if !ok {
		return fmt.Errorf("%w: contest %s", ErrNotFound, contest.ID)
	}
	contest.CreatedAt = existing.CreatedAt
	contest.UpdatedAt = time.Now().UTC()
	m.contests[contest.ID] = contest
	return nil
}

func (m *MemoryStore) ListContests(_ context.Context) ([]ContestRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ContestRecord, 0, len(m.contests))
	for _, c := range m.contests {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CreateTask(_ context.Context, task TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contests[task.ContestID]; !ok {
		return fmt.Errorf("%w: contest %s", ErrNotFound, task.ContestID)
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	m.tasks[task.ID] = task
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, taskID string) (TaskRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	return t, ok, nil
}

func (m *MemoryStore) UpdateTask(_ context.Context, task TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.tasks[task.ID]
	if !ok {
		return fmt.Errorf("%w: task %s", ErrNotFound, task.ID)
	}
	task.CreatedAt = existing.CreatedAt
	task.UpdatedAt = time.Now().UTC()
	m.tasks[task.ID] = task
	return nil
}

func (m *MemoryStore) ListTasksByContest(_ context.Context, contestID string) ([]TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TaskRecord, 0, 8)
	for _, t := range m.tasks {
		if t.ContestID == contestID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out, nil
}

func (m *MemoryStore) SetTaskStatement(_ context.Context, taskID, digest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	t.StatementDigest = digest
	t.UpdatedAt = time.Now().UTC()
	m.tasks[taskID] = t
	return nil
}

func (m *MemoryStore) AddTestcase(_ context.Context, tc TestcaseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[tc.TaskID]; !ok {
		return fmt.Errorf("%w: task %s", ErrNotFound, tc.TaskID)
	}
	if tc.CreatedAt.IsZero() {
		tc.CreatedAt = time.Now().UTC()
	}
	m.testcases[tc.ID] = tc
	return nil
}

func (m *MemoryStore) ListTestcasesByTask(_ context.Context, taskID string) ([]TestcaseRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TestcaseRecord, 0, 8)
	for _, tc := range m.testcases {
		if tc.TaskID == taskID {
			out = append(out, tc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out, nil
}

func (m *MemoryStore) DeleteTestcase(_ context.Context, testcaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.testcases[testcaseID]; !ok {
		return fmt.Errorf("%w: testcase %s", ErrNotFound, testcaseID)
	}
	delete(m.testcases, testcaseID)
	return nil
}

func (m *MemoryStore) AddAttachment(_ context.Context, a AttachmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[a.TaskID]; !ok {
		return fmt.Errorf("%w: task %s", ErrNotFound, a.TaskID)
	}
	m.attachments[a.ID] = a
	return nil
}

func (m *MemoryStore) ListAttachmentsByTask(_ context.Context, taskID string) ([]AttachmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AttachmentRecord, 0, 4)
	for _, a := range m.attachments {
		if a.TaskID == taskID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

func (m *MemoryStore) DeleteAttachment(_ context.Context, attachmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attachments[attachmentID]; !ok {
		return fmt.Errorf("%w: attachment %s", ErrNotFound, attachmentID)
	}
	delete(m.attachments, attachmentID)
	return nil
}

func (m *MemoryStore) AddManager(_ context.Context, mgr ManagerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[mgr.TaskID]; !ok {
		return fmt.Errorf("%w: task %s", ErrNotFound, mgr.TaskID)
	}
	m.managers[mgr.ID] = mgr
	return nil
}

func (m *MemoryStore) ListManagersByTask(_ context.Context, taskID string) ([]ManagerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ManagerRecord, 0, 4)
	for _, mgr := range m.managers {
		if mgr.TaskID == taskID {
			out = append(out, mgr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

func (m *MemoryStore) DeleteManager(_ context.Context, managerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.managers[managerID]; !ok {
		return fmt.Errorf("%w: manager %s", ErrNotFound, managerID)
	}
	delete(m.managers, managerID)
	return nil
}

func (m *MemoryStore) CreateUser(_ context.Context, user UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contests[user.ContestID]; !ok {
		return fmt.Errorf("%w: contest %s", ErrNotFound, user.ContestID)
	}
	for _, u := range m.users {
		if u.ContestID == user.ContestID && u.Username == user.Username {
			return fmt.Errorf("%w: %s", ErrDuplicateUsername, user.Username)
		}
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	m.users[user.ID] = user
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, userID string) (UserRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	return u, ok, nil
}

func (m *MemoryStore) UpdateUser(_ context.Context, user UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.users[user.ID]
	if !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, user.ID)
	}
	for _, u := range m.users {
		if u.ID != user.ID && u.ContestID == user.ContestID && u.Username == user.Username {
			return fmt.Errorf("%w: %s", ErrDuplicateUsername, user.Username)
		}
	}
	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = time.Now().UTC()
	m.users[user.ID] = user
	return nil
}

func (m *MemoryStore) ListUsersByContest(_ context.Context, contestID string) ([]UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]UserRecord, 0, 16)
	for _, u := range m.users {
		if u.ContestID == contestID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *MemoryStore) CreateSubmission(_ context.Context, sub SubmissionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[sub.ID] = sub
	return nil
}

func (m *MemoryStore) GetSubmission(_ context.Context, submissionID string) (SubmissionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[submissionID]
	return s, ok, nil
}

func (m *MemoryStore) ListSubmissionsByTask(_ context.Context, taskID string) ([]SubmissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SubmissionRecord, 0, 16)
	for _, s := range m.submissions {
		if s.TaskID == taskID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (m *MemoryStore) ListSubmissionsByUser(_ context.Context, userID string) ([]SubmissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SubmissionRecord, 0, 16)
	for _, s := range m.submissions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (m *MemoryStore) SetSubmissionStatus(_ context.Context, submissionID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[submissionID]
	if !ok {
		return fmt.Errorf("%w: submission %s", ErrNotFound, submissionID)
	}
	s.Status = status
	m.submissions[submissionID] = s
	return nil
}

func (m *MemoryStore) CreateQuestion(_ context.Context, q QuestionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions[q.ID] = q
	return nil
}

func (m *MemoryStore) GetQuestion(_ context.Context, questionID string) (QuestionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[questionID]
	return q, ok, nil
}

func (m *MemoryStore) ListQuestionsByContest(_ context.Context, contestID string) ([]QuestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]QuestionRecord, 0, 16)
	for _, q := range m.questions {
		if q.ContestID == contestID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionTimestamp < out[j].QuestionTimestamp })
	return out, nil
}

func (m *MemoryStore) ReplyQuestion(_ context.Context, questionID, subject, text string, timestamp int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[questionID]
	if !ok {
		return fmt.Errorf("%w: question %s", ErrNotFound, questionID)
	}
	q.ReplySubject = subject
	q.ReplyText = text
	q.ReplyTimestamp = &timestamp
	m.questions[questionID] = q
	return nil
}

func (m *MemoryStore) CountUnansweredQuestions(_ context.Context, since int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, q := range m.questions {
		if !q.Answered() && q.QuestionTimestamp > since {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ListUnansweredQuestions(_ context.Context, since int64) ([]QuestionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]QuestionRecord, 0, 4)
	for _, q := range m.questions {
		if !q.Answered() && q.QuestionTimestamp > since {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionTimestamp < out[j].QuestionTimestamp })
	return out, nil
}

func (m *MemoryStore) CreateAnnouncement(_ context.Context, a AnnouncementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contests[a.ContestID]; !ok {
		return fmt.Errorf("%w: contest %s", ErrNotFound, a.ContestID)
	}
	m.announcements[a.ID] = a
	return nil
}

func (m *MemoryStore) ListAnnouncementsByContest(_ context.Context, contestID string) ([]AnnouncementRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AnnouncementRecord, 0, 8)
	for _, a := range m.announcements {
		if a.ContestID == contestID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (m *MemoryStore) DeleteAnnouncement(_ context.Context, announcementID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.announcements[announcementID]; !ok {
		return fmt.Errorf("%w: announcement %s", ErrNotFound, announcementID)
	}
	delete(m.announcements, announcementID)
	return nil
}

func (m *MemoryStore) CreateMessage(_ context.Context, msg MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[msg.UserID]; !ok {
		return fmt.Errorf("%w: user %s", ErrNotFound, msg.UserID)
	}
	m.messages[msg.ID] = msg
	return nil
}
