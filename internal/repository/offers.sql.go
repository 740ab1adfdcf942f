package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const offerColumns = `id, name, currency, max_amount, committed_amount, status, created_at, updated_at`

func scanOffer(row interface{ Scan(...any) error }) (Offer, error) {
	var o Offer
	err := row.Scan(&o.ID, &o.Name, &o.Currency, &o.MaxAmount, &o.CommittedAmount, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

const createOffer = `
INSERT INTO offers (id, name, currency, max_amount, committed_amount, status)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + offerColumns

type CreateOfferParams struct {
	ID              pgtype.UUID
	Name            string
	Currency        string
	MaxAmount       decimal.Decimal
	CommittedAmount decimal.Decimal
	Status          string
}

// CreateOffer is used by seeding and tests; offer metadata is owned elsewhere.
func (q *Queries) CreateOffer(ctx context.Context, arg CreateOfferParams) (Offer, error) {
	return scanOffer(q.db.QueryRow(ctx, createOffer, arg.ID, arg.Name, arg.Currency, arg.MaxAmount, arg.CommittedAmount, arg.Status))
}

const getOffer = `SELECT ` + offerColumns + ` FROM offers WHERE id = $1`

func (q *Queries) GetOffer(ctx context.Context, id pgtype.UUID) (Offer, error) {
	return scanOffer(q.db.QueryRow(ctx, getOffer, id))
}

const getOfferForUpdate = `SELECT ` + offerColumns + ` FROM offers WHERE id = $1 FOR UPDATE`

func (q *Queries) GetOfferForUpdate(ctx context.Context, id pgtype.UUID) (Offer, error) {
	return scanOffer(q.db.QueryRow(ctx, getOfferForUpdate, id))
}

const incrementOfferCommitted = `
UPDATE offers
SET committed_amount = committed_amount + $2, updated_at = NOW()
WHERE id = $1 AND committed_amount + $2 <= max_amount
`

func (q *Queries) IncrementOfferCommitted(ctx context.Context, id pgtype.UUID, amount decimal.Decimal) (int64, error) {
	tag, err := q.db.Exec(ctx, incrementOfferCommitted, id, amount)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listOffers = `SELECT ` + offerColumns + ` FROM offers ORDER BY created_at`

func (q *Queries) ListOffers(ctx context.Context) ([]Offer, error) {
	rows, err := q.db.Query(ctx, listOffers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

const offerInvestmentColumns = `id, offer_id, owner_id, operation_id, intent_key, requested_amount, accepted_amount, remaining_after, created_at`

func scanOfferInvestment(row interface{ Scan(...any) error }) (OfferInvestment, error) {
	var i OfferInvestment
	err := row.Scan(&i.ID, &i.OfferID, &i.OwnerID, &i.OperationID, &i.IntentKey, &i.RequestedAmount, &i.AcceptedAmount, &i.RemainingAfter, &i.CreatedAt)
	return i, err
}

const insertOfferInvestment = `
INSERT INTO offer_investments (id, offer_id, owner_id, operation_id, intent_key, requested_amount, accepted_amount, remaining_after)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + offerInvestmentColumns

type InsertOfferInvestmentParams struct {
	ID              pgtype.UUID
	OfferID         pgtype.UUID
	OwnerID         pgtype.UUID
	OperationID     pgtype.UUID
	IntentKey       string
	RequestedAmount decimal.Decimal
	AcceptedAmount  decimal.Decimal
	RemainingAfter  decimal.Decimal
}

func (q *Queries) InsertOfferInvestment(ctx context.Context, arg InsertOfferInvestmentParams) (OfferInvestment, error) {
	return scanOfferInvestment(q.db.QueryRow(ctx, insertOfferInvestment,
		arg.ID, arg.OfferID, arg.OwnerID, arg.OperationID, arg.IntentKey, arg.RequestedAmount, arg.AcceptedAmount, arg.RemainingAfter))
}

const getOfferInvestmentByIntent = `SELECT ` + offerInvestmentColumns + ` FROM offer_investments WHERE intent_key = $1`

func (q *Queries) GetOfferInvestmentByIntent(ctx context.Context, intentKey string) (OfferInvestment, error) {
	return scanOfferInvestment(q.db.QueryRow(ctx, getOfferInvestmentByIntent, intentKey))
}
