package journal

// Schema creates the deliveries table. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS deliveries (
	id           UUID PRIMARY KEY,
	subscriber   BIGINT NOT NULL,
	address      TEXT NOT NULL,
	signature    TEXT NOT NULL,
	delivered_at BIGINT NOT NULL,
	error        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS deliveries_address_idx ON deliveries (address, delivered_at);
CREATE INDEX IF NOT EXISTS deliveries_signature_idx ON deliveries (signature);
`

const insertDelivery = `
	INSERT INTO deliveries (id, subscriber, address, signature, delivered_at, error)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO NOTHING
`
