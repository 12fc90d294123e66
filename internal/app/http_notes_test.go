package app

import (
	"net/http"
	"testing"

	"noteforge/api/internal/ai"
	"noteforge/api/internal/store"
)

func TestCreateNoteStoresSummary(t *testing.T) {
	fs := newFakeStore()
	user := fs.addUser(t, "usr_1", "ada@example.com", "correct-horse", true)
	hist := &fakeHistory{}
	idx := &fakeSearch{}
	model := &fakeAI{summary: "Buy milk before Friday."}
	handler := NewHTTPServer(newTestService(fs, Deps{AI: model, History: hist, Search: idx}), "*", nil, nil, nil).Handler()

	rr, payload := doJSON(t, handler, http.MethodPost, "/api/notes", tokenFor(t, user),
		`{"content":"\n  Groceries\nmilk, eggs","summarize":true}`)

	expectStatus(t, rr, http.StatusCreated)
	if payload["title"] != "Groceries" {
		t.Fatalf("expected derived title Groceries, got %v", payload["title"])
	}
	if payload["summaryStatus"] != store.SummaryReady || payload["summary"] != "Buy milk before Friday." {
		t.Fatalf("expected ready summary, got %v", payload)
	}
	if payload["source"] != store.SourceWeb {
		t.Fatalf("expected web source, got %v", payload["source"])
	}
	noteID, _ := payload["id"].(string)
	commits := hist.commits[noteID]
	if len(commits) != 2 || commits[0].Message != "Summarize note" {
		t.Fatalf("expected init and summary commits, got %+v", commits)
	}
	if len(idx.notes) != 1 || idx.notes[0] != noteID {
		t.Fatalf("expected note indexed once, got %v", idx.notes)
	}
}

func TestCreateNoteKeepsNoteWhenSummaryFails(t *testing.T) {
	fs := newFakeStore()
	user := fs.addUser(t, "usr_1", "ada@example.com", "correct-horse", true)
	handler := NewHTTPServer(newTestService(fs, Deps{AI: &fakeAI{err: errBoom}}), "*", nil, nil, nil).Handler()

	rr, payload := doJSON(t, handler, http.MethodPost, "/api/notes", tokenFor(t, user),
		`{"title":"Idea","content":"Build a tiny bookshelf","summarize":true}`)

	expectStatus(t, rr, http.StatusCreated)
	if payload["summaryStatus"] != store.SummaryFailed {
		t.Fatalf("expected failed summary status, got %v", payload["summaryStatus"])
	}
	if len(fs.notes) != 1 || fs.notes[0].SummaryStatus != store.SummaryFailed {
		t.Fatalf("expected stored note with failed summary, got %+v", fs.notes)
	}
}

func TestCreateNoteWithoutSummaryDoesNotCallModel(t *testing.T) {
	fs := newFakeStore()
	user := fs.addUser(t, "usr_1", "ada@example.com", "correct-horse", true)
	model := &fakeAI{summary: "unused"}
	handler := NewHTTPServer(newTestService(fs, Deps{AI: model}), "*", nil, nil, nil).Handler()

	rr, payload := doJSON(t, handler, http.MethodPost, "/api/notes", tokenFor(t, user), `{"content":"plain"}`)

	expectStatus(t, rr, http.StatusCreated)
	if payload["summaryStatus"] != store.SummaryNone || model.calls != 0 {
		t.Fatalf("expected no summary, got %v after %d calls", payload["summaryStatus"], model.calls)
	}
}

func TestCreateNoteRequiresContent(t *testing.T) {
	fs := newFakeStore()
	user := fs.addUser(t, "usr_1", "ada@example.com", "correct-horse", true)
	handler := NewHTTPServer(newTestService(fs, Deps{}), "*", nil, nil, nil).Handler()

	rr, payload := doJSON(t, handler, http.MethodPost, "/api/notes", tokenFor(t, user), `{"content":"   "}`)

	expectStatus(t, rr, http.StatusUnprocessableEntity)
	expectCode(t, payload, "VALIDATION_ERROR")
}

func TestSummarizeNoteFailureReturnsBadGateway(t *testing.T) {
	fs := newFakeStore()
	user := fs.addUser(t, "usr_1", "ada@example.com", "correct-horse", true)
	svc := newTestService(fs, Deps{AI: &fakeAI{err: errBoom}})
	handler := NewHTTPServer(svc, "*", nil, nil, nil).Handler()

	rr, created := doJSON(t, handler, http.MethodPost, "/api/notes", tokenFor(t, user), `{"content":"draft"}`)
	expectStatus(t, rr, http.StatusCreated)
	noteID, _ := created["id"].(string)

	rr, payload := doJSON(t, handler, http.MethodPost, "/api/notes/"+noteID+"/summarize", tokenFor(t, user), "")

	expectStatus(t, rr, http.StatusBadGateway)
	expectCode(t, payload, "AI_FAILED")
	if fs.notes[0].SummaryStatus != store.SummaryFailed {
		t.Fatalf("expected note marked failed, got %s", fs.notes[0].SummaryStatus)
	}
}

func TestSummarizeNoteStoreFailureIsServerError(t *testing.T) {
	fs := newFakeStore()
	user := fs.addUser(t, "usr_1", "ada@example.com", "correct-horse", true)
	svc := newTestService(fs, Deps{AI: &fakeAI{summary: "Short version."}})
	handler := NewHTTPServer(svc, "*", nil, nil, nil).Handler()

	rr, created := doJSON(t, handler, http.MethodPost, "/api/notes", tokenFor(t, user), `{"content":"draft"}`)
	expectStatus(t, rr, http.StatusCreated)
	noteID, _ := created["id"].(string)
	fs.summaryErr = errBoom

	rr, payload := doJSON(t, handler, http.MethodPost, "/api/notes/"+noteID+"/summarize", tokenFor(t, user), "")

	expectStatus(t, rr, http.StatusInternalServerError)
	expectCode(t, payload, "SERVER_ERROR")
}

func TestSummarizeNoteWithoutModelIsUnavailable(t *testing.T) {
	fs := newFakeStore()
	user := fs.addUser(t, "usr_1", "ada@example.com", "correct-horse", true)
	handler := NewHTTPServer(newTestService(fs, Deps{}), "*", nil, nil, nil).Handler()

	rr, payload := doJSON(t, handler, http.MethodPost, "/api/notes/note_x/summarize", tokenFor(t, user), "")

	expectStatus(t, rr, http.StatusServiceUnavailable)
	expectCode(t, payload, "AI_DISABLED")
}

func TestConvertNoteTwiceConflicts(t *testing.T) {
	fs := newFakeStore()
	user := fs.addUser(t, "usr_1", "ada@example.com", "correct-horse", true)
	idx := &fakeSearch{}
	handler := NewHTTPServer(newTestService(fs, Deps{Search: idx}), "*", nil, nil, nil).Handler()
	token := tokenFor(t, user)

	_, created := doJSON(t, handler, http.MethodPost, "/api/notes", token, `{"title":"Garden","content":"Plant tomatoes"}`)
	noteID, _ := created["id"].(string)

	rr, payload := doJSON(t, handler, http.MethodPost, "/api/notes/"+noteID+"/convert", token, "")
	expectStatus(t, rr, http.StatusCreated)
	project, _ := payload["project"].(map[string]any)
	if project["key"] != "PRJ-001" || project["name"] != "Garden" {
		t.Fatalf("unexpected project: %v", project)
	}
	if project["description"] != "Plant tomatoes" {
		t.Fatalf("expected note content as description, got %v", project["description"])
	}
	note, _ := payload["note"].(map[string]any)
	if note["status"] != store.NoteConverted {
		t.Fatalf("expected converted note, got %v", note["status"])
	}

	rr, payload = doJSON(t, handler, http.MethodPost, "/api/notes/"+noteID+"/convert", token, "")
	expectStatus(t, rr, http.StatusConflict)
	expectCode(t, payload, "NOTE_CONVERTED")
	if len(fs.projects) != 1 {
		t.Fatalf("expected one project, got %d", len(fs.projects))
	}
}

func TestConvertNoteUsesSummaryAndGeneratesTasks(t *testing.T) {
	fs := newFakeStore()
	user := fs.addUser(t, "usr_1", "ada@example.com", "correct-horse", true)
	model := &fakeAI{
		summary: "Grow tomatoes on the balcony.",
		drafts: []ai.TaskDraft{
			{Title: "Buy seeds", Priority: "high"},
			{Title: "Get pots", Priority: "medium"},
		},
	}
	handler := NewHTTPServer(newTestService(fs, Deps{AI: model}), "*", nil, nil, nil).Handler()
	token := tokenFor(t, user)

	_, created := doJSON(t, handler, http.MethodPost, "/api/notes", token, `{"content":"tomatoes","summarize":true}`)
	noteID, _ := created["id"].(string)

	rr, payload := doJSON(t, handler, http.MethodPost, "/api/notes/"+noteID+"/convert", token,
		`{"name":"Balcony garden","generateTasks":true}`)

	expectStatus(t, rr, http.StatusCreated)
	project, _ := payload["project"].(map[string]any)
	if project["description"] != "Grow tomatoes on the balcony." {
		t.Fatalf("expected summary as description, got %v", project["description"])
	}
	tasks, _ := payload["tasks"].([]any)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 generated tasks, got %v", payload["tasks"])
	}
	first, _ := tasks[0].(map[string]any)
	if first["source"] != store.TaskSourceAI {
		t.Fatalf("expected ai task source, got %v", first["source"])
	}
	if fs.activityCalls != 1 {
		t.Fatalf("expected one activity record, got %d", fs.activityCalls)
	}
}

func TestConvertNoteReportsTaskFailure(t *testing.T) {
	fs := newFakeStore()
	user := fs.addUser(t, "usr_1", "ada@example.com", "correct-horse", true)
	handler := NewHTTPServer(newTestService(fs, Deps{}), "*", nil, nil, nil).Handler()
	token := tokenFor(t, user)

	_, created := doJSON(t, handler, http.MethodPost, "/api/notes", token, `{"content":"tomatoes"}`)
	noteID, _ := created["id"].(string)

	rr, payload := doJSON(t, handler, http.MethodPost, "/api/notes/"+noteID+"/convert", token, `{"generateTasks":true}`)

	expectStatus(t, rr, http.StatusCreated)
	if payload["taskError"] == nil {
		t.Fatalf("expected taskError when the model is disabled, got %v", payload)
	}
}

func TestNoteOfAnotherUserIsNotFound(t *testing.T) {
	fs := newFakeStore()
	owner := fs.addUser(t, "usr_1", "ada@example.com", "correct-horse", true)
	other := fs.addUser(t, "usr_2", "bob@example.com", "correct-horse", true)
	handler := NewHTTPServer(newTestService(fs, Deps{}), "*", nil, nil, nil).Handler()

	_, created := doJSON(t, handler, http.MethodPost, "/api/notes", tokenFor(t, owner), `{"content":"secret"}`)
	noteID, _ := created["id"].(string)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rr, payload := doJSON(t, handler, method, "/api/notes/"+noteID, tokenFor(t, other), "")
		expectStatus(t, rr, http.StatusNotFound)
		expectCode(t, payload, "NOT_FOUND")
	}
}

func TestUpdateNoteStatusOfConvertedNoteConflicts(t *testing.T) {
	fs := newFakeStore()
	user := fs.addUser(t, "usr_1", "ada@example.com", "correct-horse", true)
	handler := NewHTTPServer(newTestService(fs, Deps{}), "*", nil, nil, nil).Handler()
	token := tokenFor(t, user)

	_, created := doJSON(t, handler, http.MethodPost, "/api/notes", token, `{"content":"tomatoes"}`)
	noteID, _ := created["id"].(string)
	doJSON(t, handler, http.MethodPost, "/api/notes/"+noteID+"/convert", token, "")

	rr, payload := doJSON(t, handler, http.MethodPut, "/api/notes/"+noteID, token, `{"status":"open"}`)

	expectStatus(t, rr, http.StatusConflict)
	expectCode(t, payload, "NOTE_CONVERTED")
}

func TestUpdateNoteCommitsHistory(t *testing.T) {
	fs := newFakeStore()
	user := fs.addUser(t, "usr_1", "ada@example.com", "correct-horse", true)
	hist := &fakeHistory{}
	handler := NewHTTPServer(newTestService(fs, Deps{History: hist}), "*", nil, nil, nil).Handler()
	token := tokenFor(t, user)

	_, created := doJSON(t, handler, http.MethodPost, "/api/notes", token, `{"content":"v1"}`)
	noteID, _ := created["id"].(string)

	rr, payload := doJSON(t, handler, http.MethodPut, "/api/notes/"+noteID, token, `{"content":"v2","status":"archived"}`)
	expectStatus(t, rr, http.StatusOK)
	if payload["content"] != "v2" || payload["status"] != store.NoteArchived {
		t.Fatalf("unexpected update payload: %v", payload)
	}

	rr, payload = doJSON(t, handler, http.MethodGet, "/api/notes/"+noteID+"/history", token, "")
	expectStatus(t, rr, http.StatusOK)
	commits, _ := payload["commits"].([]any)
	if len(commits) != 2 {
		t.Fatalf("expected 2 commits, got %v", payload["commits"])
	}

	rr, payload = doJSON(t, handler, http.MethodGet, "/api/notes/"+noteID+"/history/missing", token, "")
	expectStatus(t, rr, http.StatusNotFound)
	expectCode(t, payload, "NOT_FOUND")
}

func TestListNotesPaginates(t *testing.T) {
	fs := newFakeStore()
	user := fs.addUser(t, "usr_1", "ada@example.com", "correct-horse", true)
	handler := NewHTTPServer(newTestService(fs, Deps{}), "*", nil, nil, nil).Handler()
	token := tokenFor(t, user)

	for _, content := range []string{"one", "two", "three"} {
		doJSON(t, handler, http.MethodPost, "/api/notes", token, `{"content":"`+content+`"}`)
	}

	rr, payload := doJSON(t, handler, http.MethodGet, "/api/notes?limit=2&offset=0", token, "")
	expectStatus(t, rr, http.StatusOK)
	notes, _ := payload["notes"].([]any)
	if len(notes) != 2 || payload["total"] != float64(3) {
		t.Fatalf("expected 2 of 3 notes, got %d total=%v", len(notes), payload["total"])
	}

	rr, payload = doJSON(t, handler, http.MethodGet, "/api/notes?limit=-1", token, "")
	expectStatus(t, rr, http.StatusUnprocessableEntity)
	expectCode(t, payload, "VALIDATION_ERROR")

	rr, _ = doJSON(t, handler, http.MethodGet, "/api/notes?status=weird", token, "")
	expectStatus(t, rr, http.StatusUnprocessableEntity)
}

func TestDeleteNoteRemovesFromIndex(t *testing.T) {
	fs := newFakeStore()
	user := fs.addUser(t, "usr_1", "ada@example.com", "correct-horse", true)
	idx := &fakeSearch{}
	handler := NewHTTPServer(newTestService(fs, Deps{Search: idx}), "*", nil, nil, nil).Handler()
	token := tokenFor(t, user)

	_, created := doJSON(t, handler, http.MethodPost, "/api/notes", token, `{"content":"bye"}`)
	noteID, _ := created["id"].(string)

	rr, _ := doJSON(t, handler, http.MethodDelete, "/api/notes/"+noteID, token, "")

	expectStatus(t, rr, http.StatusNoContent)
	if len(idx.deleted) != 1 || idx.deleted[0] != noteID {
		t.Fatalf("expected note removed from index, got %v", idx.deleted)
	}
}
