package devserver

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/driver-agent/internal/models"
)

var errNotFound = errors.New("not found")

// driverRecord is the devserver's view of one registered driver.
type driverRecord struct {
	models.Driver
	PasswordHash string
	Status       models.DriverStatus
	Balance      float64
	Stats        models.DriverStats
	Today        models.TodayStats
}

// driverStore is in-memory only: the devserver seeds one test driver and
// accepts registrations at runtime.
type driverStore struct {
	mu      sync.RWMutex
	nextID  int64
	drivers map[int64]*driverRecord
	byPhone map[string]int64
}

func newDriverStore() *driverStore {
	return &driverStore{nextID: 1, drivers: make(map[int64]*driverRecord), byPhone: make(map[string]int64)}
}

func (s *driverStore) Add(d driverRecord) *driverRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = s.nextID
	s.nextID++
	d.Status = models.StatusOffline
	rec := &d
	s.drivers[d.ID] = rec
	s.byPhone[d.Phone] = d.ID
	return rec
}

func (s *driverStore) Get(id int64) (*driverRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drivers[id]
	return d, ok
}

func (s *driverStore) ByPhone(phone string) (*driverRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPhone[phone]
	if !ok {
		return nil, false
	}
	return s.drivers[id], true
}

func (s *driverStore) SetStatus(id int64, status models.DriverStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return false
	}
	d.Status = status
	return true
}

func (s *driverStore) Credit(id int64, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.drivers[id]; ok {
		d.Balance += amount
		d.Stats.TotalRides++
		d.Stats.TotalEarnings += amount
		d.Today.Rides++
		d.Today.Earnings += amount
	}
}

// OrderStore persists orders. The memory implementation is the default;
// Postgres is switched in by PG_DSN.
type OrderStore interface {
	SaveOrder(o *models.Order) error
	UpdateOrder(o *models.Order, driverID int64) error
	GetOrder(id int64) (models.Order, int64, error)
	OpenOrders() ([]models.Order, error)
}

type memoryOrderStore struct {
	mu      sync.RWMutex
	nextID  int64
	orders  map[int64]models.Order
	drivers map[int64]int64 // order id -> assigned driver
}

func newMemoryOrderStore() *memoryOrderStore {
	return &memoryOrderStore{nextID: 1, orders: make(map[int64]models.Order), drivers: make(map[int64]int64)}
}

func (m *memoryOrderStore) SaveOrder(o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == 0 {
		o.ID = m.nextID
		m.nextID++
	} else if o.ID >= m.nextID {
		m.nextID = o.ID + 1
	}
	m.orders[o.ID] = *o
	return nil
}

func (m *memoryOrderStore) UpdateOrder(o *models.Order, driverID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; !ok {
		return errNotFound
	}
	m.orders[o.ID] = *o
	if driverID != 0 {
		m.drivers[o.ID] = driverID
	}
	return nil
}

func (m *memoryOrderStore) GetOrder(id int64) (models.Order, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, 0, errNotFound
	}
	return o, m.drivers[id], nil
}

func (m *memoryOrderStore) OpenOrders() ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.Status == "" || o.Status == "created" || o.Status == "searching_driver" {
			out = append(out, o)
		}
	}
	return out, nil
}

// postgresOrderStore keeps the same contract on a rides table.
type postgresOrderStore struct {
	db *sql.DB
}

func newPostgresOrderStore(dsn string) (*postgresOrderStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &postgresOrderStore{db: db}, nil
}

func (p *postgresOrderStore) SaveOrder(o *models.Order) error {
	return p.db.QueryRow(
		`INSERT INTO orders(pickup_address, pickup_lat, pickup_lon, destination_address, destination_lat, destination_lon, distance_km, duration_minutes, price, status, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		o.PickupAddress, o.PickupLat, o.PickupLon, o.DestinationAddress, o.DestinationLat, o.DestinationLon,
		o.DistanceKm, o.DurationMinutes, o.Price, o.Status, time.Now(),
	).Scan(&o.ID)
}

func (p *postgresOrderStore) UpdateOrder(o *models.Order, driverID int64) error {
	var res sql.Result
	var err error
	if driverID != 0 {
		res, err = p.db.Exec(`UPDATE orders SET status=$1, driver_id=$2, updated_at=$3 WHERE id=$4`, o.Status, driverID, time.Now(), o.ID)
	} else {
		res, err = p.db.Exec(`UPDATE orders SET status=$1, updated_at=$2 WHERE id=$3`, o.Status, time.Now(), o.ID)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errNotFound
	}
	return nil
}

func (p *postgresOrderStore) GetOrder(id int64) (models.Order, int64, error) {
	var o models.Order
	var driverID sql.NullInt64
	err := p.db.QueryRow(
		`SELECT id, pickup_address, pickup_lat, pickup_lon, destination_address, destination_lat, destination_lon, distance_km, duration_minutes, price, COALESCE(status,''), driver_id
		 FROM orders WHERE id=$1`, id,
	).Scan(&o.ID, &o.PickupAddress, &o.PickupLat, &o.PickupLon, &o.DestinationAddress, &o.DestinationLat, &o.DestinationLon,
		&o.DistanceKm, &o.DurationMinutes, &o.Price, &o.Status, &driverID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, 0, errNotFound
	}
	if err != nil {
		return models.Order{}, 0, err
	}
	return o, driverID.Int64, nil
}

func (p *postgresOrderStore) OpenOrders() ([]models.Order, error) {
	rows, err := p.db.Query(
		`SELECT id, pickup_address, pickup_lat, pickup_lon, destination_address, destination_lat, destination_lon, distance_km, duration_minutes, price, COALESCE(status,'')
		 FROM orders WHERE status IN ('', 'created', 'searching_driver')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.PickupAddress, &o.PickupLat, &o.PickupLon, &o.DestinationAddress, &o.DestinationLat, &o.DestinationLon,
			&o.DistanceKm, &o.DurationMinutes, &o.Price, &o.Status); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
