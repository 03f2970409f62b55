package state

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateUsername = errors.New("username already exists in contest")
)

// Store is the persistence the admin front end depends on. Backends:
// memory (tests, single-process runs) and sqlite.
type Store interface {
	CreateContest(ctx context.Context, contest ContestRecord) error
	GetContest(ctx context.Context, contestID string) (ContestRecord, bool, error)
	UpdateContest(ctx context.Context, contest ContestRecord) error
	ListContests(ctx context.Context) ([]ContestRecord, error)

	CreateTask(ctx context.Context, task TaskRecord) error
	GetTask(ctx context.Context, taskID string) (TaskRecord, bool, error)
	UpdateTask(ctx context.Context, task TaskRecord) error
	ListTasksByContest(ctx context.Context, contestID string) ([]TaskRecord, error)
	SetTaskStatement(ctx context.Context, taskID, digest string) error

	AddTestcase(ctx context.Context, tc TestcaseRecord) error
	ListTestcasesByTask(ctx context.Context, taskID string) ([]TestcaseRecord, error)
	DeleteTestcase(ctx context.Context, testcaseID string) error

	AddAttachment(ctx context.Context, a AttachmentRecord) error
	ListAttachmentsByTask(ctx context.Context, taskID string) ([]AttachmentRecord, error)
	DeleteAttachment(ctx context.Context, attachmentID string) error

	AddManager(ctx context.Context, m ManagerRecord) error
	ListManagersByTask(ctx context.Context, taskID string) ([]ManagerRecord, error)
	DeleteManager(ctx context.Context, managerID string) error

	CreateUser(ctx context.Context, user UserRecord) error
	GetUser(ctx context.Context, userID string) (UserRecord, bool, error)
	UpdateUser(ctx context.Context, user UserRecord) error
	ListUsersByContest(ctx context.Context, contestID string) ([]UserRecord, error)

	CreateSubmission(ctx context.Context, sub SubmissionRecord) error
	GetSubmission(ctx context.Context, submissionID string) (SubmissionRecord, bool, error)
	ListSubmissionsByTask(ctx context.Context, taskID string) ([]SubmissionRecord, error)
	ListSubmissionsByUser(ctx context.Context, userID string) ([]SubmissionRecord, error)
	SetSubmissionStatus(ctx context.Context, submissionID, status string) error

	CreateQuestion(ctx context.Context, q QuestionRecord) error
	GetQuestion(ctx context.Context, questionID string) (QuestionRecord, bool, error)
	ListQuestionsByContest(ctx context.Context, contestID string) ([]QuestionRecord, error)
	ReplyQuestion(ctx context.Context, questionID, subject, text string, timestamp int64) error
	CountUnansweredQuestions(ctx context.Context, since int64) (int, error)
	ListUnansweredQuestions(ctx context.Context, since int64) ([]QuestionRecord, error)

	CreateAnnouncement(ctx context.Context, a AnnouncementRecord) error
	ListAnnouncementsByContest(ctx context.Context, contestID string) ([]AnnouncementRecord, error)
	DeleteAnnouncement(ctx context.Context, announcementID string) error

	CreateMessage(ctx context.Context, m MessageRecord) error
}
