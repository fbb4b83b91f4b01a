package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/iurnickita/cardterminal/internal/model"
	"github.com/iurnickita/cardterminal/internal/store/config"
)

type Store interface {
	CardUserGet(ctx context.Context, card model.CardID) (model.Identity, error)
	CardUserPut(ctx context.Context, card model.CardID, identity model.Identity) error
	CardUserList(ctx context.Context) (map[model.CardID]model.Identity, error)
	OrderPost(ctx context.Context, order model.Order) error
	OrderPut(ctx context.Context, order model.Order) error
	OrderGet(ctx context.Context, number string) (model.Order, error)
	Close() error
}

var (
	ErrNoRows        = errors.New("no rows")
	ErrAlreadyExists = errors.New("already exists")
)

// NewStore opens Postgres when a DSN is configured and falls back to the
// in-memory store otherwise.
func NewStore(cfg config.Config) (Store, error) {
	if cfg.DBDsn == "" {
		return NewMemStore(), nil
	}
	return NewDBStore(cfg)
}

type store struct {
	database *sql.DB
}

func NewDBStore(cfg config.Config) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	// Таблица карт: локальный каталог владельцев
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS card (" +
			" card_id BIGINT PRIMARY KEY," +
			" user_key VARCHAR (64) NOT NULL," +
			" user_name VARCHAR (128) NOT NULL DEFAULT ''," +
			" enrolled_at TIMESTAMP NOT NULL" +
			" );")
	if err != nil {
		db.Close()
		return nil, err
	}

	// Таблица заказов киоска.
	// Создается одна строка на заказ, после чего меняется ее состояние
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS kiosk_order (" +
			" number VARCHAR (20) PRIMARY KEY," +
			" session VARCHAR (64) NOT NULL," +
			" state VARCHAR (16) NOT NULL," +
			" user_key VARCHAR (64)," +
			" user_name VARCHAR (128)," +
			" reason VARCHAR (64) NOT NULL DEFAULT ''," +
			" created_at TIMESTAMP NOT NULL," +
			" updated_at TIMESTAMP NOT NULL" +
			" );")
	if err != nil {
		db.Close()
		return nil, err
	}

	return &store{
		database: db,
	}, nil
}

func (store *store) Close() error {
	return store.database.Close()
}

func (store *store) CardUserGet(ctx context.Context, card model.CardID) (model.Identity, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT user_key, user_name FROM card"+
			" WHERE card_id = $1",
		int64(card))
	var identity model.Identity
	err := row.Scan(&identity.Key, &identity.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Identity{}, ErrNoRows
		}
		return model.Identity{}, err
	}
	return identity, nil
}

func (store *store) CardUserPut(ctx context.Context, card model.CardID, identity model.Identity) error {
	// Перепривязка карты к другому пользователю разрешена
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO card (card_id, user_key, user_name, enrolled_at)"+
			" VALUES ($1, $2, $3, $4)"+
			" ON CONFLICT (card_id) DO UPDATE"+
			" SET user_key = EXCLUDED.user_key,"+
			"     user_name = EXCLUDED.user_name,"+
			"     enrolled_at = EXCLUDED.enrolled_at",
		int64(card),
		identity.Key,
		identity.Name,
		time.Now())
	return err
}

func (store *store) CardUserList(ctx context.Context) (map[model.CardID]model.Identity, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT card_id, user_key, user_name FROM card")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cards := make(map[model.CardID]model.Identity)
	for rows.Next() {
		var (
			card     int64
			identity model.Identity
		)
		if err := rows.Scan(&card, &identity.Key, &identity.Name); err != nil {
			return nil, err
		}
		cards[model.CardID(card)] = identity
	}
	return cards, rows.Err()
}

func (store *store) OrderPost(ctx context.Context, order model.Order) error {
	//Запись нового заказа
	key, name := identityColumns(order.Data.Identity)
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO kiosk_order (number, session, state, user_key, user_name, reason, created_at, updated_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		order.Number,
		order.Data.Session,
		order.Data.State,
		key,
		name,
		order.Data.Reason,
		order.Data.CreatedAt,
		order.Data.UpdatedAt)
	if err != nil {
		// Проверка: уже существует
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (store *store) OrderPut(ctx context.Context, order model.Order) error {
	//Обновление состояния заказа
	key, name := identityColumns(order.Data.Identity)
	res, err := store.database.ExecContext(ctx,
		"UPDATE kiosk_order"+
			" SET state = $1, user_key = $2, user_name = $3, reason = $4, updated_at = $5"+
			" WHERE number = $6",
		order.Data.State,
		key,
		name,
		order.Data.Reason,
		order.Data.UpdatedAt,
		order.Number)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoRows
	}
	return nil
}

func (store *store) OrderGet(ctx context.Context, number string) (model.Order, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT number, session, state, user_key, user_name, reason, created_at, updated_at"+
			" FROM kiosk_order"+
			" WHERE number = $1",
		number)

	var (
		order model.Order
		key   sql.NullString
		name  sql.NullString
	)
	err := row.Scan(&order.Number,
		&order.Data.Session,
		&order.Data.State,
		&key,
		&name,
		&order.Data.Reason,
		&order.Data.CreatedAt,
		&order.Data.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Order{}, ErrNoRows
		}
		return model.Order{}, err
	}
	if key.Valid && key.String != "" {
		order.Data.Identity = &model.Identity{Key: key.String, Name: name.String}
	}
	return order, nil
}

func identityColumns(identity *model.Identity) (sql.NullString, sql.NullString) {
	if identity == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return sql.NullString{String: identity.Key, Valid: true},
		sql.NullString{String: identity.Name, Valid: true}
}
