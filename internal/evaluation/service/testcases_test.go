package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/mock/gomock"

	"evalledger/internal/evaluation/cache"
	"evalledger/internal/evaluation/models"
	"evalledger/internal/evaluation/store"
	dErrors "evalledger/pkg/domain-errors"
)

func boolPtr(b bool) *bool { return &b }

func (s *ServiceSuite) TestCreateTestCase() {
	s.Run("owned test case belongs to the creator", func() {
		tc := s.mustTestCase(s.alice, "capital", models.TestCaseTypeLLM)
		s.Require().NotNil(tc.OwnerID)
		s.Equal(s.alice.UserID, *tc.OwnerID)
		s.Equal(models.TestCaseTypeLLM, tc.Type)
		llm, ok := tc.Payload.(*models.LLMPayload)
		s.Require().True(ok)
		s.Equal("What is the capital of France?", llm.Input)
	})

	s.Run("payload must match the declared type", func() {
		in := testCaseInput("mismatch", models.TestCaseTypeConversational)
		in.Payload = json.RawMessage(`{"input":"hello"}`)
		_, err := s.service.CreateTestCase(s.ctx, s.alice, in)
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("invalid turn role names the path", func() {
		in := testCaseInput("bad role", models.TestCaseTypeConversational)
		in.Payload = json.RawMessage(`{"turns":[{"role":"narrator","content":"x"}]}`)
		_, err := s.service.CreateTestCase(s.ctx, s.alice, in)
		s.requireCode(err, dErrors.CodeValidation)
		s.Contains(dErrors.FieldsOf(err), "payload.turns[0].role")
	})

	s.Run("unknown type is rejected", func() {
		in := testCaseInput("odd", models.TestCaseTypeLLM)
		in.Type = "video"
		_, err := s.service.CreateTestCase(s.ctx, s.alice, in)
		s.requireCode(err, dErrors.CodeValidation)
		s.Contains(dErrors.FieldsOf(err), "type")
	})

	s.Run("global requires a privileged actor", func() {
		in := testCaseInput("global q", models.TestCaseTypeLLM)
		in.Global = boolPtr(true)
		_, err := s.service.CreateTestCase(s.ctx, s.alice, in)
		s.requireCode(err, dErrors.CodeForbidden)
	})

	s.Run("privileged actor creates a global test case and invalidates the cache", func() {
		s.cache.EXPECT().InvalidateGlobal(gomock.Any()).Return(nil)
		in := testCaseInput("global q", models.TestCaseTypeLLM)
		in.Global = boolPtr(true)
		tc, err := s.service.CreateTestCase(s.ctx, s.admin, in)
		s.Require().NoError(err)
		s.True(tc.IsGlobal())
		s.Equal(s.admin.UserID, tc.CreatedBy)
	})

	s.Run("owned names do not collide with global names", func() {
		tc := s.mustTestCase(s.alice, "GLOBAL Q", models.TestCaseTypeLLM)
		s.False(tc.IsGlobal())
	})

	s.Run("owned names are unique per owner", func() {
		_, err := s.service.CreateTestCase(s.ctx, s.alice, testCaseInput("Capital", models.TestCaseTypeMultimodal))
		s.requireCode(err, dErrors.CodeConflict)
	})
}

func (s *ServiceSuite) TestTestCaseVisibility() {
	s.cache.EXPECT().InvalidateGlobal(gomock.Any()).Return(nil).AnyTimes()
	owned := s.mustTestCase(s.alice, "alice llm", models.TestCaseTypeLLM)
	s.mustTestCase(s.alice, "alice chat", models.TestCaseTypeConversational)
	in := testCaseInput("shared llm", models.TestCaseTypeLLM)
	in.Global = boolPtr(true)
	global, err := s.service.CreateTestCase(s.ctx, s.admin, in)
	s.Require().NoError(err)

	s.Run("owner and global readable, foreign owned is not found", func() {
		_, err := s.service.GetTestCase(s.ctx, s.alice, owned.ID)
		s.NoError(err)
		_, err = s.service.GetTestCase(s.ctx, s.bob, global.ID)
		s.NoError(err)
		_, err = s.service.GetTestCase(s.ctx, s.bob, owned.ID)
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("list returns only owned", func() {
		cases, err := s.service.ListTestCases(s.ctx, s.alice)
		s.Require().NoError(err)
		s.Len(cases, 2)
	})

	s.Run("by type includes globals unless scope is owned", func() {
		all, err := s.service.ListTestCasesByType(s.ctx, s.alice, "LLM", "")
		s.Require().NoError(err)
		s.Require().Len(all, 2)
		s.Equal(owned.ID, all[0].ID)
		s.Equal(global.ID, all[1].ID)

		ownedOnly, err := s.service.ListTestCasesByType(s.ctx, s.alice, "llm", "owned")
		s.Require().NoError(err)
		s.Require().Len(ownedOnly, 1)
		s.Equal(owned.ID, ownedOnly[0].ID)

		_, err = s.service.ListTestCasesByType(s.ctx, s.alice, "llm", "mine")
		s.requireCode(err, dErrors.CodeValidation)
	})
}

func (s *ServiceSuite) TestGlobalListingCache() {
	s.cache.EXPECT().InvalidateGlobal(gomock.Any()).Return(nil).AnyTimes()
	in := testCaseInput("shared", models.TestCaseTypeLLM)
	in.Global = boolPtr(true)
	global, err := s.service.CreateTestCase(s.ctx, s.admin, in)
	s.Require().NoError(err)

	s.Run("hit is served without the store", func() {
		cached := []*models.TestCase{global}
		s.cache.EXPECT().GetGlobal(gomock.Any()).Return(cached, true, nil)

		cases, err := s.service.ListGlobalTestCases(s.ctx, s.bob)
		s.Require().NoError(err)
		s.Equal(cached, cases)
	})

	s.Run("miss reads the store and fills the cache", func() {
		s.cache.EXPECT().GetGlobal(gomock.Any()).Return(nil, false, nil)
		s.cache.EXPECT().Generation(gomock.Any()).Return(uint64(3), nil)
		s.cache.EXPECT().SetGlobal(gomock.Any(), uint64(3), gomock.Len(1)).Return(nil)

		cases, err := s.service.ListGlobalTestCases(s.ctx, s.bob)
		s.Require().NoError(err)
		s.Require().Len(cases, 1)
		s.Equal(global.ID, cases[0].ID)
	})

	s.Run("cache failures fall back to the store", func() {
		s.cache.EXPECT().GetGlobal(gomock.Any()).Return(nil, false, errors.New("redis down"))
		s.cache.EXPECT().Generation(gomock.Any()).Return(uint64(3), nil)
		s.cache.EXPECT().SetGlobal(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("redis down"))

		cases, err := s.service.ListGlobalTestCases(s.ctx, s.bob)
		s.Require().NoError(err)
		s.Len(cases, 1)
	})

	s.Run("unknown generation skips the fill", func() {
		s.cache.EXPECT().GetGlobal(gomock.Any()).Return(nil, false, nil)
		s.cache.EXPECT().Generation(gomock.Any()).Return(uint64(0), errors.New("redis down"))

		cases, err := s.service.ListGlobalTestCases(s.ctx, s.bob)
		s.Require().NoError(err)
		s.Len(cases, 1)
	})

	s.Run("cancelled caller still gets the listing", func() {
		s.cache.EXPECT().GetGlobal(gomock.Any()).Return(nil, false, nil)
		s.cache.EXPECT().Generation(gomock.Any()).Return(uint64(4), nil)
		s.cache.EXPECT().SetGlobal(gomock.Any(), uint64(4), gomock.Len(1)).Return(nil)

		mem := s.store
		svc := New(ctxAwareStore{InMemory: mem}, mem, WithGlobalCache(s.cache))
		ctx, cancel := context.WithCancel(s.ctx)
		cancel()

		cases, err := svc.ListGlobalTestCases(ctx, s.bob)
		s.Require().NoError(err)
		s.Len(cases, 1)
	})
}

// ctxAwareStore fails global listings once the context is done, like a
// database driver would.
type ctxAwareStore struct {
	*store.InMemory
}

func (c ctxAwareStore) ListGlobalTestCases(ctx context.Context) ([]*models.TestCase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.InMemory.ListGlobalTestCases(ctx)
}

// pausingStore hands out one global listing read from the store, then holds
// it until released.
type pausingStore struct {
	*store.InMemory
	read    chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *pausingStore) ListGlobalTestCases(ctx context.Context) ([]*models.TestCase, error) {
	cases, err := p.InMemory.ListGlobalTestCases(ctx)
	p.once.Do(func() {
		close(p.read)
		<-p.release
	})
	return cases, err
}

func (s *ServiceSuite) TestGlobalListingSeesCreateDuringFill() {
	mem := store.NewInMemory()
	paused := &pausingStore{InMemory: mem, read: make(chan struct{}), release: make(chan struct{})}
	svc := New(paused, mem, WithGlobalCache(cache.NewMemory(time.Minute)))

	type listing struct {
		cases []*models.TestCase
		err   error
	}
	first := make(chan listing, 1)
	go func() {
		cases, err := svc.ListGlobalTestCases(s.ctx, s.bob)
		first <- listing{cases, err}
	}()
	<-paused.read

	in := testCaseInput("shared", models.TestCaseTypeLLM)
	in.Global = boolPtr(true)
	created, err := svc.CreateTestCase(s.ctx, s.admin, in)
	s.Require().NoError(err)

	close(paused.release)
	got := <-first
	s.Require().NoError(got.err)
	s.Empty(got.cases, "the first listing read the store before the create")

	cases, err := svc.ListGlobalTestCases(s.ctx, s.bob)
	s.Require().NoError(err)
	s.Require().Len(cases, 1)
	s.Equal(created.ID, cases[0].ID)

	again, err := svc.ListGlobalTestCases(s.ctx, s.alice)
	s.Require().NoError(err)
	s.Len(again, 1)
}

func (s *ServiceSuite) TestConversationalTurnsKeepOrder() {
	in := testCaseInput("dialogue", models.TestCaseTypeConversational)
	in.Payload = json.RawMessage(`{"turns":[` +
		`{"role":"system","content":"be brief"},` +
		`{"role":"user","content":"2+2?"},` +
		`{"role":"assistant","content":"4"},` +
		`{"role":"user","content":"and 3+3?"}]}`)
	want := []models.Turn{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "2+2?"},
		{Role: "assistant", Content: "4"},
		{Role: "user", Content: "and 3+3?"},
	}

	created, err := s.service.CreateTestCase(s.ctx, s.alice, in)
	s.Require().NoError(err)
	conv, ok := created.Payload.(*models.ConversationalPayload)
	s.Require().True(ok)
	s.Equal(want, conv.Turns)

	got, err := s.service.GetTestCase(s.ctx, s.alice, created.ID)
	s.Require().NoError(err)
	fetched, ok := got.Payload.(*models.ConversationalPayload)
	s.Require().True(ok)
	s.Equal(conv.Turns, fetched.Turns)
}

func (s *ServiceSuite) TestUpdateTestCase() {
	tc := s.mustTestCase(s.alice, "chat", models.TestCaseTypeConversational)

	s.Run("replaces payload and keeps unchanged metadata", func() {
		in := testCaseInput("chat", models.TestCaseTypeConversational)
		in.AdditionalMetadata = json.RawMessage(`{"source":"manual"}`)
		_, err := s.service.UpdateTestCase(s.ctx, s.alice, tc.ID, in, nil)
		s.Require().NoError(err)

		next := testCaseInput("chat v2", models.TestCaseTypeConversational)
		next.Payload = json.RawMessage(`{"turns":[{"role":"user","content":"bye"}]}`)
		updated, err := s.service.UpdateTestCase(s.ctx, s.alice, tc.ID, next, []string{"additional_metadata"})
		s.Require().NoError(err)
		s.Equal("chat v2", updated.Name)
		conv := updated.Payload.(*models.ConversationalPayload)
		s.Require().Len(conv.Turns, 1)
		s.Equal("bye", conv.Turns[0].Content)
		s.JSONEq(`{"source":"manual"}`, string(updated.AdditionalMetadata))
	})

	s.Run("type cannot change", func() {
		_, err := s.service.UpdateTestCase(s.ctx, s.alice, tc.ID, testCaseInput("chat", models.TestCaseTypeLLM), nil)
		s.requireCode(err, dErrors.CodeValidation)
		s.Contains(dErrors.FieldsOf(err), "type")
	})

	s.Run("global flag cannot change", func() {
		in := testCaseInput("chat", models.TestCaseTypeConversational)
		in.Global = boolPtr(true)
		_, err := s.service.UpdateTestCase(s.ctx, s.alice, tc.ID, in, nil)
		s.requireCode(err, dErrors.CodeValidation)
		s.Contains(dErrors.FieldsOf(err), "global")
	})

	s.Run("someone else's owned test case is not found", func() {
		_, err := s.service.UpdateTestCase(s.ctx, s.bob, tc.ID, testCaseInput("x", models.TestCaseTypeConversational), nil)
		s.requireCode(err, dErrors.CodeNotFound)
	})
}

func (s *ServiceSuite) TestGlobalTestCaseMutation() {
	s.cache.EXPECT().InvalidateGlobal(gomock.Any()).Return(nil).AnyTimes()
	creator := s.alice
	creator.Privileged = true
	in := testCaseInput("shared", models.TestCaseTypeMultimodal)
	in.Global = boolPtr(true)
	global, err := s.service.CreateTestCase(s.ctx, creator, in)
	s.Require().NoError(err)

	s.Run("unprivileged non-creator is forbidden", func() {
		_, err := s.service.UpdateTestCase(s.ctx, s.bob, global.ID, testCaseInput("shared", models.TestCaseTypeMultimodal), nil)
		s.requireCode(err, dErrors.CodeForbidden)
		_, err = s.service.DeleteTestCase(s.ctx, s.bob, global.ID)
		s.requireCode(err, dErrors.CodeForbidden)
	})

	s.Run("creator may update after losing privilege", func() {
		_, err := s.service.UpdateTestCase(s.ctx, s.alice, global.ID, testCaseInput("shared v2", models.TestCaseTypeMultimodal), nil)
		s.NoError(err)
	})

	s.Run("any privileged actor may delete", func() {
		deleted, err := s.service.DeleteTestCase(s.ctx, s.admin, global.ID)
		s.Require().NoError(err)
		s.Equal(global.ID, deleted.ID)
		_, err = s.service.GetTestCase(s.ctx, s.admin, global.ID)
		s.requireCode(err, dErrors.CodeNotFound)
	})
}
