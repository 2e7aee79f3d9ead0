package repository_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Receptionally/firewood-marketplace/services/billing-service/models"
	"github.com/Receptionally/firewood-marketplace/services/billing-service/repository"
)

var chargeColumns = []string{"id", "order_id", "charge_type", "seller_id", "payment_intent_id", "amount", "currency", "status", "created_at"}

func newCharge() *models.SubscriptionCharge {
	return &models.SubscriptionCharge{
		OrderID:         uuid.New(),
		SellerID:        uuid.New(),
		PaymentIntentID: "pi_123",
		Amount:          1000,
		Currency:        "usd",
	}
}

func TestRecordCharge_InsertsAndMarksOrder(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	ledger := repository.NewGormChargeLedger(gormDB)
	charge := newCharge()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "subscription_charges"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET "subscription_charge_processed"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	duplicate, err := ledger.RecordCharge(context.Background(), charge)
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.NotEqual(t, uuid.Nil, charge.ID)
	assert.Equal(t, models.ChargeTypeSubscription, charge.ChargeType)
	assert.Equal(t, models.ChargeStatusSucceeded, charge.Status)
}

func TestRecordCharge_DuplicateIsSuccess(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	ledger := repository.NewGormChargeLedger(gormDB)
	charge := newCharge()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "subscription_charges"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "subscription_charges"`)).
		WillReturnRows(sqlmock.NewRows(chargeColumns).AddRow(
			uuid.NewString(), charge.OrderID.String(), models.ChargeTypeSubscription, charge.SellerID.String(),
			"pi_123", 1000, "usd", models.ChargeStatusSucceeded, time.Now()))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET "subscription_charge_processed"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	duplicate, err := ledger.RecordCharge(context.Background(), charge)
	require.NoError(t, err)
	assert.True(t, duplicate)
}

func TestRecordCharge_PaymentIntentOwnedByAnotherOrder(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	ledger := repository.NewGormChargeLedger(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "subscription_charges"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "subscription_charges"`)).
		WillReturnRows(sqlmock.NewRows(chargeColumns))
	mock.ExpectRollback()

	_, err := ledger.RecordCharge(context.Background(), newCharge())
	assert.ErrorIs(t, err, repository.ErrChargeFailed)
}

func TestRecordCharge_UniqueViolationIsSuccess(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	ledger := repository.NewGormChargeLedger(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "subscription_charges"`)).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET "subscription_charge_processed"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	duplicate, err := ledger.RecordCharge(context.Background(), newCharge())
	require.NoError(t, err)
	assert.True(t, duplicate)
}

func TestRecordCharge_StorageFailure(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	ledger := repository.NewGormChargeLedger(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "subscription_charges"`)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	duplicate, err := ledger.RecordCharge(context.Background(), newCharge())
	assert.ErrorIs(t, err, repository.ErrChargeFailed)
	assert.False(t, duplicate)
}

func TestRecordCharge_RequiresIdentifiers(t *testing.T) {
	gormDB, _ := setupMockDB(t)
	ledger := repository.NewGormChargeLedger(gormDB)

	_, err := ledger.RecordCharge(context.Background(), &models.SubscriptionCharge{OrderID: uuid.New()})
	assert.ErrorIs(t, err, repository.ErrChargeFailed)
}

func TestFindSucceededCharge(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	ledger := repository.NewGormChargeLedger(gormDB)
	orderID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "subscription_charges" WHERE order_id = $1 AND charge_type = $2 AND status = $3`)).
		WillReturnRows(sqlmock.NewRows(chargeColumns).AddRow(
			uuid.NewString(), orderID.String(), models.ChargeTypeSubscription, uuid.NewString(),
			"pi_found", 1000, "usd", models.ChargeStatusSucceeded, now))

	charge, err := ledger.FindSucceededCharge(context.Background(), orderID)
	require.NoError(t, err)
	require.NotNil(t, charge)
	assert.Equal(t, "pi_found", charge.PaymentIntentID)

	status := models.StatusFromCharge(charge)
	assert.True(t, status.IsCharged)
	assert.Equal(t, int64(1000), status.Amount)
}

func TestFindSucceededCharge_NoneReturnsNil(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	ledger := repository.NewGormChargeLedger(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "subscription_charges"`)).
		WillReturnRows(sqlmock.NewRows(chargeColumns))

	charge, err := ledger.FindSucceededCharge(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, charge)
}

func TestFindSucceededCharge_QueryError(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	ledger := repository.NewGormChargeLedger(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "subscription_charges"`)).
		WillReturnError(errors.New("db down"))

	charge, err := ledger.FindSucceededCharge(context.Background(), uuid.New())
	assert.Error(t, err)
	assert.Nil(t, charge)
}

func TestListSellerCharges_NewestFirst(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	ledger := repository.NewGormChargeLedger(gormDB)
	sellerID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at DESC`)).
		WillReturnRows(sqlmock.NewRows(chargeColumns).
			AddRow(uuid.NewString(), uuid.NewString(), models.ChargeTypeSubscription, sellerID.String(), "pi_2", 1000, "usd", "succeeded", now).
			AddRow(uuid.NewString(), uuid.NewString(), models.ChargeTypeSubscription, sellerID.String(), "pi_1", 1000, "usd", "succeeded", now.Add(-time.Hour)))

	charges, err := ledger.ListSellerCharges(context.Background(), sellerID)
	require.NoError(t, err)
	require.Len(t, charges, 2)
	assert.Equal(t, "pi_2", charges[0].PaymentIntentID)
}

func TestRecordFailedCharge(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	ledger := repository.NewGormChargeLedger(gormDB)
	orderID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "failed_charges"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := ledger.RecordFailedCharge(context.Background(), &models.FailedCharge{
		SellerID: uuid.New(),
		OrderID:  &orderID,
		Amount:   1000,
		Reason:   "card_declined",
	})
	assert.NoError(t, err)
}
