package state

import "time"

type ContestRecord struct {
	ID               string
	Name             string
	Description      string
	TokenInitial     int
	TokenMax         *int
	TokenTotal       *int
	TokenMinInterval *int
	TokenGenTime     *int
	TokenGenNumber   *int
	Start            int64
	Stop             int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Phase reports where the contest stands at the given unix time:
// -1 before start, 0 while running, +1 after stop.
func (c ContestRecord) Phase(now int64) int {
	if now < c.Start {
		return -1
	}
	if now <= c.Stop {
		return 0
	}
	return 1
}

type TaskRecord struct {
	ID                 string
	ContestID          string
	Num                int
	Name               string
	Title              string
	TimeLimit          float64
	MemoryLimit        int
	TaskType           string
	TaskTypeParameters []string
	ScoreType          string
	ScoreParameters    string
	SubmissionFormat   []string
	StatementDigest    string
	TokenInitial       int
	TokenMax           *int
	TokenTotal         *int
	TokenMinInterval   *int
	TokenGenTime       *int
	TokenGenNumber     *int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type TestcaseRecord struct {
	ID           string
	TaskID       string
	Num          int
	InputDigest  string
	OutputDigest string
	Public       bool
	CreatedAt    time.Time
}

type AttachmentRecord struct {
	ID       string
	TaskID   string
	Filename string
	Digest   string
}

type ManagerRecord struct {
	ID       string
	TaskID   string
	Filename string
	Digest   string
}

type UserRecord struct {
	ID        string
	ContestID string
	RealName  string
	Username  string
	Password  string
	IP        string
	Hidden    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	SubmissionEvaluated   = "evaluated"
	SubmissionEvaluating  = "evaluating"
	SubmissionInvalidated = "invalidated"
)

type SubmissionRecord struct {
	ID        string
	UserID    string
	TaskID    string
	Timestamp int64
	Status    string
}

type QuestionRecord struct {
	ID                string
	UserID            string
	ContestID         string
	QuestionTimestamp int64
	Subject           string
	Text              string
	ReplySubject      string
	ReplyText         string
	ReplyTimestamp    *int64
}

func (q QuestionRecord) Answered() bool { return q.ReplyTimestamp != nil }

type AnnouncementRecord struct {
	ID        string
	ContestID string
	Timestamp int64
	Subject   string
	Text      string
}

type MessageRecord struct {
	ID        string
	UserID    string
	Timestamp int64
	Subject   string
	Text      string
}
