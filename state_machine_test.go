package market_test

import (
	"context"
	"errors"
	"testing"
	"time"

	market "github.com/goliatone/go-market"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var allStatuses = []market.ProductStatus{
	market.ProductStatusPending,
	market.ProductStatusApproved,
	market.ProductStatusRejected,
}

func newProduct(seller *market.User, status market.ProductStatus) *market.Product {
	return &market.Product{
		ID:          uuid.New(),
		SellerID:    seller.ID,
		Name:        "Vintage Camera",
		Description: "Works fine",
		Price:       1500000,
		Category:    "electronics",
		ImageURL:    "https://media.test/camera.png",
		Stock:       1,
		Status:      status,
		Version:     1,
	}
}

func strPtr(s string) *string { return &s }
func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }

func TestModerationMachine_TransitionGrid(t *testing.T) {
	admin := market.ActorFromUser(newUser(market.RoleAdmin, "root"))
	seller := newUser(market.RoleSeller, "sam")

	allowed := map[[2]market.ProductStatus]bool{
		{market.ProductStatusPending, market.ProductStatusApproved}: true,
		{market.ProductStatusPending, market.ProductStatusRejected}: true,
		{market.ProductStatusApproved, market.ProductStatusPending}: true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			name := string(from) + "->" + string(to)
			t.Run(name, func(t *testing.T) {
				store := new(MockProductStatusStore)
				store.On("UpdateStatus", mock.Anything, mock.Anything, int64(1), to, mock.Anything).Return(nil, nil).Maybe()

				machine := market.NewModerationMachine(store, market.WithStateMachineLogger(testLogger{}))
				product := newProduct(seller, from)

				got, err := machine.Transition(context.Background(), admin, product, to)

				switch {
				case from == to:
					require.NoError(t, err)
					assert.Equal(t, from, got.Status)
					store.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
				case allowed[[2]market.ProductStatus{from, to}]:
					require.NoError(t, err)
					assert.Equal(t, to, got.Status)
					assert.Equal(t, int64(2), got.Version)
				default:
					require.Error(t, err)
					assert.True(t, market.HasTextCode(err, market.TextCodeInvalidTransition))
					assert.Equal(t, from, product.Status)
				}
			})
		}
	}
}

func TestModerationMachine_Permissions(t *testing.T) {
	machine := market.NewModerationMachine(new(MockProductStatusStore))
	seller := market.ActorFromUser(newUser(market.RoleSeller, "sam"))
	admin := market.ActorFromUser(newUser(market.RoleAdmin, "root"))
	system := market.SystemActor()

	assert.True(t, machine.CanTransition(admin, market.ProductStatusPending, market.ProductStatusApproved))
	assert.False(t, machine.CanTransition(seller, market.ProductStatusPending, market.ProductStatusApproved))
	assert.False(t, machine.CanTransition(system, market.ProductStatusPending, market.ProductStatusApproved))
	assert.False(t, machine.CanTransition(seller, market.ProductStatusPending, market.ProductStatusRejected))
	assert.True(t, machine.CanTransition(system, market.ProductStatusApproved, market.ProductStatusPending))
	assert.False(t, machine.CanTransition(seller, market.ProductStatusApproved, market.ProductStatusPending))
	assert.False(t, machine.CanTransition(admin, market.ProductStatusRejected, market.ProductStatusApproved))

	t.Run("seller approve is forbidden", func(t *testing.T) {
		product := newProduct(newUser(market.RoleSeller, "sam"), market.ProductStatusPending)
		_, err := machine.Approve(context.Background(), seller, product)
		require.Error(t, err)
		assert.Equal(t, market.KindForbidden, market.KindOf(err))
		assert.Equal(t, market.ProductStatusPending, product.Status)
	})
}

func TestModerationMachine_ApproveRecordsVerifier(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	seller := newUser(market.RoleSeller, "sam")
	admin := market.ActorFromUser(newUser(market.RoleAdmin, "root"))

	t.Run("defaults to the admin username", func(t *testing.T) {
		store := new(MockProductStatusStore)
		product := newProduct(seller, market.ProductStatusPending)
		store.On("UpdateStatus", mock.Anything, product.ID, int64(1), market.ProductStatusApproved, "root").Return(nil, nil).Once()

		sink := &capturingSink{}
		machine := market.NewModerationMachine(store,
			market.WithStateMachineActivitySink(sink),
			market.WithStateMachineClock(fixedClock(now)),
		)

		got, err := machine.Approve(context.Background(), admin, product, market.WithTransitionReason("looks good"))
		require.NoError(t, err)
		assert.Equal(t, market.ProductStatusApproved, got.Status)
		assert.Equal(t, "root", got.VerifiedBy)
		store.AssertExpectations(t)

		events := sink.ofType(market.ActivityEventProductStatusChanged)
		require.Len(t, events, 1)
		assert.Equal(t, market.ProductStatusPending, events[0].FromStatus)
		assert.Equal(t, market.ProductStatusApproved, events[0].ToStatus)
		assert.Equal(t, product.ID.String(), events[0].ProductID)
		assert.Equal(t, "looks good", events[0].Metadata["reason"])
		assert.Equal(t, now, events[0].OccurredAt)
	})

	t.Run("explicit verifier wins", func(t *testing.T) {
		store := new(MockProductStatusStore)
		product := newProduct(seller, market.ProductStatusPending)
		store.On("UpdateStatus", mock.Anything, product.ID, int64(1), market.ProductStatusApproved, "QA Team").Return(nil, nil).Once()

		machine := market.NewModerationMachine(store)
		got, err := machine.Approve(context.Background(), admin, product, market.WithVerifier("QA Team"))
		require.NoError(t, err)
		assert.Equal(t, "QA Team", got.VerifiedBy)
	})

	t.Run("reject clears the verifier", func(t *testing.T) {
		store := new(MockProductStatusStore)
		product := newProduct(seller, market.ProductStatusPending)
		store.On("UpdateStatus", mock.Anything, product.ID, int64(1), market.ProductStatusRejected, "").Return(nil, nil).Once()

		machine := market.NewModerationMachine(store)
		got, err := machine.Reject(context.Background(), admin, product)
		require.NoError(t, err)
		assert.Equal(t, market.ProductStatusRejected, got.Status)
		assert.Empty(t, got.VerifiedBy)
	})

	t.Run("store result is applied", func(t *testing.T) {
		store := new(MockProductStatusStore)
		product := newProduct(seller, market.ProductStatusPending)
		stored := *product
		stored.Status = market.ProductStatusApproved
		stored.VerifiedBy = "root"
		stored.Version = 7
		store.On("UpdateStatus", mock.Anything, product.ID, int64(1), market.ProductStatusApproved, "root").Return(&stored, nil).Once()

		machine := market.NewModerationMachine(store)
		got, err := machine.Approve(context.Background(), admin, product)
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.Version)
	})
}

func TestModerationMachine_VersionConflict(t *testing.T) {
	seller := newUser(market.RoleSeller, "sam")
	admin := market.ActorFromUser(newUser(market.RoleAdmin, "root"))
	product := newProduct(seller, market.ProductStatusPending)

	store := new(MockProductStatusStore)
	store.On("UpdateStatus", mock.Anything, product.ID, int64(1), market.ProductStatusApproved, "root").
		Return(nil, market.ErrProductVersionConflict).Once()

	sink := new(MockActivitySink)
	machine := market.NewModerationMachine(store, market.WithStateMachineActivitySink(sink))

	_, err := machine.Approve(context.Background(), admin, product)
	require.Error(t, err)
	assert.True(t, market.HasTextCode(err, market.TextCodeVersionConflict))
	assert.Equal(t, market.ProductStatusPending, product.Status)
	sink.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}

func TestModerationMachine_Hooks(t *testing.T) {
	seller := newUser(market.RoleSeller, "sam")
	admin := market.ActorFromUser(newUser(market.RoleAdmin, "root"))

	t.Run("before hook failure aborts", func(t *testing.T) {
		store := new(MockProductStatusStore)
		product := newProduct(seller, market.ProductStatusPending)
		machine := market.NewModerationMachine(store)

		_, err := machine.Approve(context.Background(), admin, product,
			market.WithBeforeTransitionHook(func(context.Context, market.TransitionContext) error {
				return errors.New("not today")
			}),
		)
		require.Error(t, err)
		store.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("hooks see the transition and handler can swallow", func(t *testing.T) {
		store := new(MockProductStatusStore)
		product := newProduct(seller, market.ProductStatusPending)
		store.On("UpdateStatus", mock.Anything, product.ID, int64(1), market.ProductStatusApproved, "root").Return(nil, nil).Once()

		var phases []market.TransitionHookPhase
		machine := market.NewModerationMachine(store,
			market.WithStateMachineHookErrorHandler(func(_ context.Context, phase market.TransitionHookPhase, _ error, _ market.TransitionContext) error {
				phases = append(phases, phase)
				return nil
			}),
		)

		var seen market.TransitionContext
		_, err := machine.Approve(context.Background(), admin, product,
			market.WithTransitionMetadata(map[string]any{"queue": "daily"}),
			market.WithBeforeTransitionHook(func(_ context.Context, tc market.TransitionContext) error {
				seen = tc
				return nil
			}),
			market.WithAfterTransitionHook(func(context.Context, market.TransitionContext) error {
				return errors.New("notify failed")
			}),
		)
		require.NoError(t, err)
		assert.Equal(t, market.ProductStatusPending, seen.From)
		assert.Equal(t, market.ProductStatusApproved, seen.To)
		assert.Equal(t, "daily", seen.Meta.Metadata["queue"])
		assert.Equal(t, []market.TransitionHookPhase{market.HookPhaseAfter}, phases)
	})
}

func TestModerationMachine_InitialStatus(t *testing.T) {
	machine := market.NewModerationMachine(nil, market.WithDefaultVerifier("Admin"))

	status, verifier := machine.InitialStatus(newUser(market.RoleSeller, "sam"), "")
	assert.Equal(t, market.ProductStatusPending, status)
	assert.Empty(t, verifier)

	status, verifier = machine.InitialStatus(newUser(market.RoleAdmin, "root"), "")
	assert.Equal(t, market.ProductStatusApproved, status)
	assert.Equal(t, "Admin", verifier)

	status, verifier = machine.InitialStatus(newUser(market.RoleAdmin, "root"), "root")
	assert.Equal(t, market.ProductStatusApproved, status)
	assert.Equal(t, "root", verifier)
}

func TestModerationMachine_ApplyEdit(t *testing.T) {
	seller := newUser(market.RoleSeller, "sam")
	sellerActor := market.ActorFromUser(seller)
	admin := market.ActorFromUser(newUser(market.RoleAdmin, "root"))
	machine := market.NewModerationMachine(nil)

	tests := []struct {
		name        string
		actor       market.ActorRef
		status      market.ProductStatus
		edit        market.ProductEdit
		wantStatus  market.ProductStatus
		wantReset   bool
		wantVerfier string
	}{
		{
			name:       "seller price edit of approved listing resets",
			actor:      sellerActor,
			status:     market.ProductStatusApproved,
			edit:       market.ProductEdit{Price: int64Ptr(990000)},
			wantStatus: market.ProductStatusPending,
			wantReset:  true,
		},
		{
			name:       "seller description edit of rejected listing resets",
			actor:      sellerActor,
			status:     market.ProductStatusRejected,
			edit:       market.ProductEdit{Description: strPtr("Now with a strap")},
			wantStatus: market.ProductStatusPending,
			wantReset:  true,
		},
		{
			name:        "seller stock edit keeps status",
			actor:       sellerActor,
			status:      market.ProductStatusApproved,
			edit:        market.ProductEdit{Stock: intPtr(3), Tags: &[]string{"retro"}},
			wantStatus:  market.ProductStatusApproved,
			wantVerfier: "root",
		},
		{
			name:        "seller resubmitting the same values keeps status",
			actor:       sellerActor,
			status:      market.ProductStatusApproved,
			edit:        market.ProductEdit{Name: strPtr("Vintage Camera"), Price: int64Ptr(1500000)},
			wantStatus:  market.ProductStatusApproved,
			wantVerfier: "root",
		},
		{
			name:        "admin price edit keeps status",
			actor:       admin,
			status:      market.ProductStatusApproved,
			edit:        market.ProductEdit{Price: int64Ptr(10)},
			wantStatus:  market.ProductStatusApproved,
			wantVerfier: "root",
		},
		{
			name:        "admin edit of rejected listing keeps status",
			actor:       admin,
			status:      market.ProductStatusRejected,
			edit:        market.ProductEdit{Name: strPtr("Renamed")},
			wantStatus:  market.ProductStatusRejected,
			wantVerfier: "root",
		},
		{
			name:       "seller edit of pending listing stays pending",
			actor:      sellerActor,
			status:     market.ProductStatusPending,
			edit:       market.ProductEdit{ImageURL: strPtr("https://media.test/new.png")},
			wantStatus: market.ProductStatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			product := newProduct(seller, tt.status)
			if tt.status != market.ProductStatusPending {
				product.VerifiedBy = "root"
			}

			result, err := machine.ApplyEdit(tt.actor, product, tt.edit)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, product.Status)
			assert.Equal(t, tt.wantReset, result.StatusReset)
			assert.Equal(t, tt.wantVerfier, product.VerifiedBy)
			assert.Equal(t, tt.status, result.From)
		})
	}

	t.Run("other sellers cannot edit", func(t *testing.T) {
		product := newProduct(seller, market.ProductStatusApproved)
		other := market.ActorFromUser(newUser(market.RoleSeller, "olga"))

		_, err := machine.ApplyEdit(other, product, market.ProductEdit{Price: int64Ptr(1)})
		require.Error(t, err)
		assert.Equal(t, market.KindForbidden, market.KindOf(err))
		assert.Equal(t, int64(1500000), product.Price)
	})

	t.Run("clearing the original price is a core change", func(t *testing.T) {
		product := newProduct(seller, market.ProductStatusApproved)
		product.OriginalPrice = int64Ptr(2000000)

		result, err := machine.ApplyEdit(sellerActor, product, market.ProductEdit{ClearOriginalPrice: true})
		require.NoError(t, err)
		assert.True(t, result.CoreChanged)
		assert.Nil(t, product.OriginalPrice)
		assert.Equal(t, []string{"original_price"}, result.Changed)
	})

	t.Run("edit reset is published once persisted", func(t *testing.T) {
		sink := &capturingSink{}
		machine := market.NewModerationMachine(nil, market.WithStateMachineActivitySink(sink))
		product := newProduct(seller, market.ProductStatusApproved)

		result, err := machine.ApplyEdit(sellerActor, product, market.ProductEdit{Price: int64Ptr(1)})
		require.NoError(t, err)
		assert.Empty(t, sink.ofType(market.ActivityEventProductStatusChanged))

		machine.EditPersisted(context.Background(), sellerActor, product, result)
		events := sink.ofType(market.ActivityEventProductStatusChanged)
		require.Len(t, events, 1)
		assert.Equal(t, market.ProductStatusApproved, events[0].FromStatus)
		assert.Equal(t, market.ProductStatusPending, events[0].ToStatus)
		assert.Equal(t, "edited", events[0].Metadata["reason"])
	})
}
