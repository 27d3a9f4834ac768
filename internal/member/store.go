package member

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a member id has no profile row.
var ErrNotFound = errors.New("member not found")

const schema = `
CREATE TABLE IF NOT EXISTS member_profiles (
	member_id                   TEXT PRIMARY KEY,
	name                        TEXT NOT NULL,
	age                         INTEGER NOT NULL,
	country                     TEXT NOT NULL,
	super_balance               REAL NOT NULL,
	marital_status              TEXT NOT NULL DEFAULT '',
	other_assets                REAL NOT NULL DEFAULT 0,
	preservation_age            INTEGER NOT NULL,
	account_based_pension       REAL NOT NULL DEFAULT 0,
	annual_income_outside_super REAL NOT NULL DEFAULT 0,
	debt                        REAL NOT NULL DEFAULT 0,
	dependents                  INTEGER NOT NULL DEFAULT 0,
	employment_status           TEXT NOT NULL DEFAULT '',
	risk_profile                TEXT NOT NULL DEFAULT '',
	home_ownership              TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_member_country ON member_profiles(country);
`

// Store is the SQLite-backed member data catalog.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the member catalog at dbPath and applies the
// schema.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening member catalog: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying member catalog schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const memberColumns = `member_id, name, age, country, super_balance, marital_status,
	other_assets, preservation_age, account_based_pension,
	annual_income_outside_super, debt, dependents, employment_status,
	risk_profile, home_ownership`

// Get returns the profile for the given member id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, memberID string) (*Context, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM member_profiles WHERE member_id = ?`, memberID)
	mc, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, memberID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying member %s: %w", memberID, err)
	}
	return mc, nil
}

// Put inserts or replaces a member profile.
func (s *Store) Put(ctx context.Context, mc *Context) error {
	if err := mc.validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO member_profiles (`+memberColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mc.MemberID, mc.Name, mc.Age, mc.Country, mc.SuperBalance,
		mc.MaritalStatus, mc.OtherAssets, mc.PreservationAge,
		mc.AccountBasedPension, mc.AnnualIncomeOutsideSuper, mc.Debt,
		mc.Dependents, mc.EmploymentStatus, mc.RiskProfile, mc.HomeOwnership)
	if err != nil {
		return fmt.Errorf("storing member %s: %w", mc.MemberID, err)
	}
	return nil
}

// ListByCountry returns all profiles for a jurisdiction, ordered by member id.
func (s *Store) ListByCountry(ctx context.Context, country string) ([]*Context, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM member_profiles WHERE country = ? ORDER BY member_id`,
		country)
	if err != nil {
		return nil, fmt.Errorf("listing members for %s: %w", country, err)
	}
	defer rows.Close()

	var out []*Context
	for rows.Next() {
		mc, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning member row: %w", err)
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}

// Seed loads a small demonstration dataset if the catalog is empty. Returns
// the number of profiles inserted.
func (s *Store) Seed(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM member_profiles`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting member profiles: %w", err)
	}
	if count > 0 {
		return 0, nil
	}
	for _, mc := range seedProfiles {
		if err := s.Put(ctx, mc); err != nil {
			return 0, err
		}
	}
	log.Info().Int("profiles", len(seedProfiles)).Msg("member_catalog_seeded")
	return len(seedProfiles), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*Context, error) {
	var mc Context
	err := row.Scan(
		&mc.MemberID, &mc.Name, &mc.Age, &mc.Country, &mc.SuperBalance,
		&mc.MaritalStatus, &mc.OtherAssets, &mc.PreservationAge,
		&mc.AccountBasedPension, &mc.AnnualIncomeOutsideSuper, &mc.Debt,
		&mc.Dependents, &mc.EmploymentStatus, &mc.RiskProfile, &mc.HomeOwnership)
	if err != nil {
		return nil, err
	}
	return &mc, nil
}

var seedProfiles = []*Context{
	{
		MemberID: "AU001", Name: "Margaret Chen", Age: 58, Country: "AU",
		SuperBalance: 485000, MaritalStatus: "Married", OtherAssets: 120000,
		PreservationAge: 60, AnnualIncomeOutsideSuper: 95000, Debt: 45000,
		Dependents: 1, EmploymentStatus: "Full-time", RiskProfile: "Balanced",
		HomeOwnership: "Owned with Mortgage",
	},
	{
		MemberID: "AU002", Name: "David Okonkwo", Age: 67, Country: "AU",
		SuperBalance: 820000, MaritalStatus: "Married", OtherAssets: 310000,
		PreservationAge: 60, AccountBasedPension: 52000, Debt: 0,
		EmploymentStatus: "Retired", RiskProfile: "Conservative",
		HomeOwnership: "Owned Outright",
	},
	{
		MemberID: "AU003", Name: "Sarah Whitfield", Age: 42, Country: "AU",
		SuperBalance: 145000, MaritalStatus: "Single", OtherAssets: 25000,
		PreservationAge: 60, AnnualIncomeOutsideSuper: 88000, Debt: 160000,
		Dependents: 2, EmploymentStatus: "Full-time", RiskProfile: "Growth",
		HomeOwnership: "Owned with Mortgage",
	},
	{
		MemberID: "UK001", Name: "James Pemberton", Age: 54, Country: "UK",
		SuperBalance: 265000, MaritalStatus: "Married", OtherAssets: 90000,
		PreservationAge: 55, AnnualIncomeOutsideSuper: 72000, Debt: 38000,
		Dependents: 1, EmploymentStatus: "Full-time", RiskProfile: "Moderate",
		HomeOwnership: "Owned with Mortgage",
	},
	{
		MemberID: "US001", Name: "Linda Alvarez", Age: 61, Country: "US",
		SuperBalance: 540000, MaritalStatus: "Divorced", OtherAssets: 150000,
		PreservationAge: 59, AnnualIncomeOutsideSuper: 85000, Debt: 22000,
		EmploymentStatus: "Full-time", RiskProfile: "Balanced",
		HomeOwnership: "Owned Outright",
	},
	{
		MemberID: "IN001", Name: "Priya Raghavan", Age: 49, Country: "IN",
		SuperBalance: 185000, MaritalStatus: "Married", OtherAssets: 60000,
		PreservationAge: 58, AnnualIncomeOutsideSuper: 38000, Debt: 52000,
		Dependents: 2, EmploymentStatus: "Full-time", RiskProfile: "Growth",
		HomeOwnership: "Renting",
	},
}
