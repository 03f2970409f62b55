package state

import (
	"context"
	"errors"
	"testing"
)

func intPtrOf(v int) *int { return &v }

func TestMemoryStoreContestLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	contest := ContestRecord{
		ID:           "contest-1",
		Name:         "practice",
		Description:  "Practice Round",
		TokenInitial: 2,
		TokenMax:     intPtrOf(10),
		Start:        1000,
		Stop:         2000,
	}
	if err := store.CreateContest(ctx, contest); err != nil {
		t.Fatalf("create contest: %v", err)
	}

	got, ok, err := store.GetContest(ctx, "contest-1")
	if err != nil || !ok {
		t.Fatalf("get contest: ok=%v err=%v", ok, err)
	}
	if got.Name != "practice" || got.TokenMax == nil || *got.TokenMax != 10 {
		t.Fatalf("unexpected contest: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be set")
	}

	got.Description = "Final Round"
	if err := store.UpdateContest(ctx, got); err != nil {
		t.Fatalf("update contest: %v", err)
	}
	updated, _, err := store.GetContest(ctx, "contest-1")
	if err != nil {
		t.Fatalf("get contest after update: %v", err)
	}
	if updated.Description != "Final Round" {
		t.Fatalf("expected updated description, got %q", updated.Description)
	}

	contests, err := store.ListContests(ctx)
	if err != nil {
		t.Fatalf("list contests: %v", err)
	}
	if len(contests) != 1 {
		t.Fatalf("expected 1 contest, got %d", len(contests))
	}

	if phase := updated.Phase(500); phase != -1 {
		t.Fatalf("expected phase -1 before start, got %d", phase)
	}
	if phase := updated.Phase(1500); phase != 0 {
		t.Fatalf("expected phase 0 during contest, got %d", phase)
	}
	if phase := updated.Phase(2500); phase != 1 {
		t.Fatalf("expected phase 1 after stop, got %d", phase)
	}
}

func TestMemoryStoreUpdateMissingContest(t *testing.T) {
	store := NewMemoryStore()
	err := store.UpdateContest(context.Background(), ContestRecord{ID: "nope"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreTasksAndTestcases(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.CreateContest(ctx, ContestRecord{ID: "c1", Name: "c"}); err != nil {
		t.Fatalf("create contest: %v", err)
	}

	task := TaskRecord{
		ID:               "t1",
		ContestID:        "c1",
		Num:              0,
		Name:             "sum",
		Title:            "A+B",
		TimeLimit:        1.0,
		MemoryLimit:      256,
		TaskType:         "Batch",
		SubmissionFormat: []string{"sum.%l"},
	}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := store.CreateTask(ctx, TaskRecord{ID: "t2", ContestID: "missing", Name: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing contest, got %v", err)
	}

	if err := store.SetTaskStatement(ctx, "t1", "sha1:abc"); err != nil {
		t.Fatalf("set statement: %v", err)
	}
	got, ok, err := store.GetTask(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("get task: ok=%v err=%v", ok, err)
	}
	if got.StatementDigest != "sha1:abc" {
		t.Fatalf("expected statement digest, got %q", got.StatementDigest)
	}

	for i, id := range []string{"tc1", "tc2"} {
		tc := TestcaseRecord{ID: id, TaskID: "t1", Num: i, InputDigest: "in", OutputDigest: "out"}
		if err := store.AddTestcase(ctx, tc); err != nil {
			t.Fatalf("add testcase %s: %v", id, err)
		}
	}
	cases, err := store.ListTestcasesByTask(ctx, "t1")
	if err != nil {
		t.Fatalf("list testcases: %v", err)
	}
	if len(cases) != 2 || cases[0].Num != 0 || cases[1].Num != 1 {
		t.Fatalf("unexpected testcases: %+v", cases)
	}

	if err := store.DeleteTestcase(ctx, "tc1"); err != nil {
		t.Fatalf("delete testcase: %v", err)
	}
	cases, err = store.ListTestcasesByTask(ctx, "t1")
	if err != nil {
		t.Fatalf("list testcases after delete: %v", err)
	}
	if len(cases) != 1 || cases[0].ID != "tc2" {
		t.Fatalf("expected only tc2, got %+v", cases)
	}
	if err := store.DeleteTestcase(ctx, "tc1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestMemoryStoreUserUniqueness(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.CreateContest(ctx, ContestRecord{ID: "c1", Name: "c"}); err != nil {
		t.Fatalf("create contest: %v", err)
	}
	if err := store.CreateContest(ctx, ContestRecord{ID: "c2", Name: "c2"}); err != nil {
		t.Fatalf("create contest: %v", err)
	}

	if err := store.CreateUser(ctx, UserRecord{ID: "u1", ContestID: "c1", Username: "alice"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := store.CreateUser(ctx, UserRecord{ID: "u2", ContestID: "c1", Username: "alice"}); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
	// Same username in a different contest is fine.
	if err := store.CreateUser(ctx, UserRecord{ID: "u3", ContestID: "c2", Username: "alice"}); err != nil {
		t.Fatalf("create user in other contest: %v", err)
	}
	if err := store.CreateUser(ctx, UserRecord{ID: "u4", ContestID: "missing", Username: "bob"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing contest, got %v", err)
	}

	users, err := store.ListUsersByContest(ctx, "c1")
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0].Username != "alice" {
		t.Fatalf("unexpected users: %+v", users)
	}
}

func TestMemoryStoreSubmissionStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.CreateContest(ctx, ContestRecord{ID: "c1", Name: "c"}); err != nil {
		t.Fatalf("create contest: %v", err)
	}
	if err := store.CreateTask(ctx, TaskRecord{ID: "t1", ContestID: "c1", Name: "sum"}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := store.CreateUser(ctx, UserRecord{ID: "u1", ContestID: "c1", Username: "alice"}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	subs := []SubmissionRecord{
		{ID: "s1", UserID: "u1", TaskID: "t1", Timestamp: 100, Status: SubmissionEvaluated},
		{ID: "s2", UserID: "u1", TaskID: "t1", Timestamp: 200, Status: SubmissionEvaluating},
	}
	for _, s := range subs {
		if err := store.CreateSubmission(ctx, s); err != nil {
			t.Fatalf("create submission %s: %v", s.ID, err)
		}
	}

	if err := store.SetSubmissionStatus(ctx, "s1", SubmissionInvalidated); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, ok, err := store.GetSubmission(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("get submission: ok=%v err=%v", ok, err)
	}
	if got.Status != SubmissionInvalidated {
		t.Fatalf("expected invalidated, got %q", got.Status)
	}

	byTask, err := store.ListSubmissionsByTask(ctx, "t1")
	if err != nil {
		t.Fatalf("list by task: %v", err)
	}
	if len(byTask) != 2 || byTask[0].Timestamp > byTask[1].Timestamp {
		t.Fatalf("expected 2 submissions ordered by timestamp, got %+v", byTask)
	}
	byUser, err := store.ListSubmissionsByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(byUser) != 2 {
		t.Fatalf("expected 2 submissions for user, got %d", len(byUser))
	}
}

func TestMemoryStoreQuestionsAndAnnouncements(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.CreateContest(ctx, ContestRecord{ID: "c1", Name: "c"}); err != nil {
		t.Fatalf("create contest: %v", err)
	}
	if err := store.CreateUser(ctx, UserRecord{ID: "u1", ContestID: "c1", Username: "alice"}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	questions := []QuestionRecord{
		{ID: "q1", UserID: "u1", ContestID: "c1", QuestionTimestamp: 100, Subject: "clarify", Text: "limits?"},
		{ID: "q2", UserID: "u1", ContestID: "c1", QuestionTimestamp: 300, Subject: "io", Text: "stdin?"},
	}
	for _, q := range questions {
		if err := store.CreateQuestion(ctx, q); err != nil {
			t.Fatalf("create question %s: %v", q.ID, err)
		}
	}

	n, err := store.CountUnansweredQuestions(ctx, 0)
	if err != nil {
		t.Fatalf("count unanswered: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 unanswered, got %d", n)
	}
	n, err = store.CountUnansweredQuestions(ctx, 200)
	if err != nil {
		t.Fatalf("count unanswered since: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 unanswered since 200, got %d", n)
	}
	open, err := store.ListUnansweredQuestions(ctx, 0)
	if err != nil {
		t.Fatalf("list unanswered: %v", err)
	}
	if len(open) != 2 || open[0].ID != "q1" || open[1].ID != "q2" {
		t.Fatalf("expected q1,q2 ordered by timestamp, got %+v", open)
	}
	open, err = store.ListUnansweredQuestions(ctx, 200)
	if err != nil {
		t.Fatalf("list unanswered since: %v", err)
	}
	if len(open) != 1 || open[0].ID != "q2" {
		t.Fatalf("expected only q2 since 200, got %+v", open)
	}

	if err := store.ReplyQuestion(ctx, "q1", "re: clarify", "see statement", 400); err != nil {
		t.Fatalf("reply question: %v", err)
	}
	q, ok, err := store.GetQuestion(ctx, "q1")
	if err != nil || !ok {
		t.Fatalf("get question: ok=%v err=%v", ok, err)
	}
	if !q.Answered() || q.ReplySubject != "re: clarify" {
		t.Fatalf("expected answered question, got %+v", q)
	}
	n, err = store.CountUnansweredQuestions(ctx, 0)
	if err != nil {
		t.Fatalf("count unanswered after reply: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 unanswered after reply, got %d", n)
	}

	if err := store.CreateAnnouncement(ctx, AnnouncementRecord{ID: "a1", ContestID: "c1", Timestamp: 100, Subject: "welcome", Text: "good luck"}); err != nil {
		t.Fatalf("create announcement: %v", err)
	}
	anns, err := store.ListAnnouncementsByContest(ctx, "c1")
	if err != nil {
		t.Fatalf("list announcements: %v", err)
	}
	if len(anns) != 1 || anns[0].Subject != "welcome" {
		t.Fatalf("unexpected announcements: %+v", anns)
	}
	if err := store.DeleteAnnouncement(ctx, "a1"); err != nil {
		t.Fatalf("delete announcement: %v", err)
	}
	if err := store.DeleteAnnouncement(ctx, "a1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}
