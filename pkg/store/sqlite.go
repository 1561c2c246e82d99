package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jmassawe/kikoba/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the schema.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	slog.Info("database connection established and schema initialized", "path", dataSourceName)
	return s, nil
}

// initSchema creates the tables if they don't already exist. Money columns
// use TEXT so no decimal precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS settings (
		group_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (group_id, key),
		FOREIGN KEY(group_id) REFERENCES groups(id)
	);
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		joined_date DATETIME NOT NULL,
		is_system INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY(group_id) REFERENCES groups(id)
	);
	CREATE TABLE IF NOT EXISTS loan_rules (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		min_principal TEXT NOT NULL,
		max_principal TEXT NOT NULL,
		days INTEGER NOT NULL,
		FOREIGN KEY(group_id) REFERENCES groups(id)
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest TEXT NOT NULL,
		total TEXT NOT NULL,
		months INTEGER NOT NULL,
		start_date DATETIME NOT NULL,
		due_date DATETIME NOT NULL,
		status TEXT NOT NULL,
		FOREIGN KEY(member_id) REFERENCES members(id),
		FOREIGN KEY(group_id) REFERENCES groups(id)
	);
	CREATE TABLE IF NOT EXISTS repayments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		date DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id),
		FOREIGN KEY(group_id) REFERENCES groups(id)
	);
	CREATE TABLE IF NOT EXISTS contributions (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		date DATETIME NOT NULL,
		FOREIGN KEY(member_id) REFERENCES members(id),
		FOREIGN KEY(group_id) REFERENCES groups(id)
	);
	CREATE TABLE IF NOT EXISTS penalties (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		loan_id TEXT,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		amount_paid TEXT NOT NULL DEFAULT '0',
		description TEXT NOT NULL DEFAULT '',
		date DATETIME NOT NULL,
		FOREIGN KEY(member_id) REFERENCES members(id),
		FOREIGN KEY(loan_id) REFERENCES loans(id),
		FOREIGN KEY(group_id) REFERENCES groups(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---- groups ----

func (s *SQLiteStore) CreateGroup(g *models.Group, system *models.Member, seed map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO groups (id, name, created_at) VALUES (?, ?, ?)`,
		g.ID.String(), g.Name, g.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO members (id, group_id, name, phone, joined_date, is_system) VALUES (?, ?, ?, ?, ?, 1)`,
		system.ID.String(), g.ID.String(), system.Name, system.Phone, system.JoinedDate,
	); err != nil {
		return fmt.Errorf("failed to create system member: %w", err)
	}

	for key, value := range seed {
		if _, err := tx.Exec(
			`INSERT INTO settings (group_id, key, value) VALUES (?, ?, ?)`,
			g.ID.String(), key, value,
		); err != nil {
			return fmt.Errorf("failed to seed setting %s: %w", key, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetGroup(id uuid.UUID) (*models.Group, error) {
	var g models.Group
	var idStr string
	row := s.db.QueryRow(`SELECT id, name, created_at FROM groups WHERE id = ?`, id.String())
	if err := row.Scan(&idStr, &g.Name, &g.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	g.ID = uuid.MustParse(idStr)
	return &g, nil
}

// ---- settings ----

func (s *SQLiteStore) SettingsFor(groupID uuid.UUID) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings WHERE group_id = ?`, groupID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting row: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during settings iteration: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) UpsertSetting(groupID uuid.UUID, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (group_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(group_id, key) DO UPDATE SET value = excluded.value`,
		groupID.String(), key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert setting %s: %w", key, err)
	}
	return nil
}

// ---- members ----

func (s *SQLiteStore) CreateMember(m *models.Member) error {
	_, err := s.db.Exec(
		`INSERT INTO members (id, group_id, name, phone, joined_date, is_system) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.GroupID.String(), m.Name, m.Phone, m.JoinedDate, m.IsSystem,
	)
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanMember(row *sql.Row) (*models.Member, error) {
	var m models.Member
	var idStr, groupIDStr string
	if err := row.Scan(&idStr, &groupIDStr, &m.Name, &m.Phone, &m.JoinedDate, &m.IsSystem); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan member: %w", err)
	}
	m.ID = uuid.MustParse(idStr)
	m.GroupID = uuid.MustParse(groupIDStr)
	return &m, nil
}

func (s *SQLiteStore) GetMember(groupID, id uuid.UUID) (*models.Member, error) {
	row := s.db.QueryRow(
		`SELECT id, group_id, name, phone, joined_date, is_system FROM members WHERE id = ? AND group_id = ?`,
		id.String(), groupID.String(),
	)
	return s.scanMember(row)
}

func (s *SQLiteStore) SystemMember(groupID uuid.UUID) (*models.Member, error) {
	row := s.db.QueryRow(
		`SELECT id, group_id, name, phone, joined_date, is_system FROM members WHERE group_id = ? AND is_system = 1`,
		groupID.String(),
	)
	return s.scanMember(row)
}

func (s *SQLiteStore) ListMembers(groupID uuid.UUID) ([]*models.Member, error) {
	rows, err := s.db.Query(
		`SELECT id, group_id, name, phone, joined_date, is_system FROM members
		 WHERE group_id = ? AND is_system = 0 ORDER BY joined_date, name`,
		groupID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		var m models.Member
		var idStr, groupIDStr string
		if err := rows.Scan(&idStr, &groupIDStr, &m.Name, &m.Phone, &m.JoinedDate, &m.IsSystem); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		m.ID = uuid.MustParse(idStr)
		m.GroupID = uuid.MustParse(groupIDStr)
		members = append(members, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during member iteration: %w", err)
	}
	return members, nil
}

func (s *SQLiteStore) CountMembers(groupID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(id) FROM members WHERE group_id = ? AND is_system = 0`,
		groupID.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) UpdateMember(m *models.Member) error {
	result, err := s.db.Exec(
		`UPDATE members SET name = ?, phone = ? WHERE id = ? AND group_id = ? AND is_system = 0`,
		m.Name, m.Phone, m.ID.String(), m.GroupID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}
	return checkAffected(result)
}

func (s *SQLiteStore) DeleteMember(groupID, id uuid.UUID) error {
	result, err := s.db.Exec(
		`DELETE FROM members WHERE id = ? AND group_id = ? AND is_system = 0`,
		id.String(), groupID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to delete member: %w", err)
	}
	return checkAffected(result)
}

func (s *SQLiteStore) MemberRecordCount(groupID, memberID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT
			(SELECT COUNT(*) FROM contributions WHERE member_id = ? AND group_id = ?) +
			(SELECT COUNT(*) FROM loans WHERE member_id = ? AND group_id = ?) +
			(SELECT COUNT(*) FROM penalties WHERE member_id = ? AND group_id = ?)`,
		memberID.String(), groupID.String(),
		memberID.String(), groupID.String(),
		memberID.String(), groupID.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count member records: %w", err)
	}
	return n, nil
}

// ---- loan rules ----

func (s *SQLiteStore) ReplaceLoanRules(groupID uuid.UUID, rules []*models.LoanRule) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM loan_rules WHERE group_id = ?`, groupID.String()); err != nil {
		return fmt.Errorf("failed to clear loan rules: %w", err)
	}
	for _, r := range rules {
		if _, err := tx.Exec(
			`INSERT INTO loan_rules (id, group_id, min_principal, max_principal, days) VALUES (?, ?, ?, ?, ?)`,
			r.ID.String(), groupID.String(), r.MinPrincipal, r.MaxPrincipal, r.Days,
		); err != nil {
			return fmt.Errorf("failed to insert loan rule: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListLoanRules(groupID uuid.UUID) ([]*models.LoanRule, error) {
	rows, err := s.db.Query(
		`SELECT id, group_id, min_principal, max_principal, days FROM loan_rules
		 WHERE group_id = ? ORDER BY CAST(min_principal AS REAL) ASC`,
		groupID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list loan rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.LoanRule
	for rows.Next() {
		var r models.LoanRule
		var idStr, groupIDStr string
		if err := rows.Scan(&idStr, &groupIDStr, &r.MinPrincipal, &r.MaxPrincipal, &r.Days); err != nil {
			return nil, fmt.Errorf("failed to scan loan rule row: %w", err)
		}
		r.ID = uuid.MustParse(idStr)
		r.GroupID = uuid.MustParse(groupIDStr)
		rules = append(rules, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during loan rule iteration: %w", err)
	}
	return rules, nil
}

// ---- loans ----

const loanColumns = `id, member_id, group_id, principal, interest, total, months, start_date, due_date, status`

func (s *SQLiteStore) CreateLoan(l *models.Loan) error {
	_, err := s.db.Exec(
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID.String(), l.MemberID.String(), l.GroupID.String(),
		l.Principal, l.Interest, l.Total, l.Months, l.StartDate, l.DueDate, l.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

func scanLoan(scan func(dest ...any) error) (*models.Loan, error) {
	var l models.Loan
	var idStr, memberIDStr, groupIDStr string
	err := scan(&idStr, &memberIDStr, &groupIDStr, &l.Principal, &l.Interest, &l.Total, &l.Months, &l.StartDate, &l.DueDate, &l.Status)
	if err != nil {
		return nil, err
	}
	l.ID = uuid.MustParse(idStr)
	l.MemberID = uuid.MustParse(memberIDStr)
	l.GroupID = uuid.MustParse(groupIDStr)
	return &l, nil
}

func (s *SQLiteStore) GetLoan(groupID, id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(
		`SELECT `+loanColumns+` FROM loans WHERE id = ? AND group_id = ?`,
		id.String(), groupID.String(),
	)
	l, err := scanLoan(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return l, nil
}

func (s *SQLiteStore) queryLoans(query string, args ...any) ([]*models.Loan, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		l, err := scanLoan(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during loan iteration: %w", err)
	}
	return loans, nil
}

func (s *SQLiteStore) ListLoans(groupID uuid.UUID) ([]*models.Loan, error) {
	return s.queryLoans(
		`SELECT `+loanColumns+` FROM loans WHERE group_id = ? ORDER BY start_date`,
		groupID.String(),
	)
}

func (s *SQLiteStore) LoansForMember(groupID, memberID uuid.UUID) ([]*models.Loan, error) {
	return s.queryLoans(
		`SELECT `+loanColumns+` FROM loans WHERE group_id = ? AND member_id = ? ORDER BY start_date`,
		groupID.String(), memberID.String(),
	)
}

func (s *SQLiteStore) LatestOpenLoan(groupID, memberID uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(
		`SELECT `+loanColumns+` FROM loans
		 WHERE group_id = ? AND member_id = ? AND status != ?
		 ORDER BY start_date DESC LIMIT 1`,
		groupID.String(), memberID.String(), models.LoanStatusCleared,
	)
	l, err := scanLoan(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest open loan: %w", err)
	}
	return l, nil
}

func (s *SQLiteStore) OverdueCandidates(groupID uuid.UUID, before time.Time) ([]*models.Loan, error) {
	return s.queryLoans(
		`SELECT `+loanColumns+` FROM loans
		 WHERE group_id = ? AND status IN (?, ?) AND due_date < ?`,
		groupID.String(), models.LoanStatusActive, models.LoanStatusOverdue, before,
	)
}

func (s *SQLiteStore) UpdateLoanStatus(groupID, id uuid.UUID, status models.LoanStatus) error {
	result, err := s.db.Exec(
		`UPDATE loans SET status = ? WHERE id = ? AND group_id = ?`,
		status, id.String(), groupID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan status: %w", err)
	}
	return checkAffected(result)
}

func (s *SQLiteStore) UpdateLoanSchedule(groupID, id uuid.UUID, due time.Time, status models.LoanStatus) error {
	result, err := s.db.Exec(
		`UPDATE loans SET due_date = ?, status = ? WHERE id = ? AND group_id = ?`,
		due, status, id.String(), groupID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan schedule: %w", err)
	}
	return checkAffected(result)
}

// ---- repayments ----

func (s *SQLiteStore) CreateRepayment(r *models.Repayment) error {
	_, err := s.db.Exec(
		`INSERT INTO repayments (id, loan_id, group_id, amount, date) VALUES (?, ?, ?, ?, ?)`,
		r.ID.String(), r.LoanID.String(), r.GroupID.String(), r.Amount, r.Date,
	)
	if err != nil {
		return fmt.Errorf("failed to create repayment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRepayments(groupID, loanID uuid.UUID) ([]*models.Repayment, error) {
	rows, err := s.db.Query(
		`SELECT id, loan_id, group_id, amount, date FROM repayments
		 WHERE loan_id = ? AND group_id = ? ORDER BY date DESC`,
		loanID.String(), groupID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list repayments: %w", err)
	}
	defer rows.Close()

	var repayments []*models.Repayment
	for rows.Next() {
		var r models.Repayment
		var idStr, loanIDStr, groupIDStr string
		if err := rows.Scan(&idStr, &loanIDStr, &groupIDStr, &r.Amount, &r.Date); err != nil {
			return nil, fmt.Errorf("failed to scan repayment row: %w", err)
		}
		r.ID = uuid.MustParse(idStr)
		r.LoanID = uuid.MustParse(loanIDStr)
		r.GroupID = uuid.MustParse(groupIDStr)
		repayments = append(repayments, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during repayment iteration: %w", err)
	}
	return repayments, nil
}

func (s *SQLiteStore) RepaidTotal(groupID, loanID uuid.UUID) (decimal.Decimal, error) {
	return s.sumColumn(
		`SELECT amount FROM repayments WHERE loan_id = ? AND group_id = ?`,
		loanID.String(), groupID.String(),
	)
}

// ---- contributions ----

func (s *SQLiteStore) CreateContribution(c *models.Contribution) error {
	_, err := s.db.Exec(
		`INSERT INTO contributions (id, member_id, group_id, type, amount, date) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.MemberID.String(), c.GroupID.String(), c.Type, c.Amount, c.Date,
	)
	if err != nil {
		return fmt.Errorf("failed to create contribution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetContribution(groupID, id uuid.UUID) (*models.Contribution, error) {
	var c models.Contribution
	var idStr, memberIDStr, groupIDStr string
	row := s.db.QueryRow(
		`SELECT id, member_id, group_id, type, amount, date FROM contributions WHERE id = ? AND group_id = ?`,
		id.String(), groupID.String(),
	)
	if err := row.Scan(&idStr, &memberIDStr, &groupIDStr, &c.Type, &c.Amount, &c.Date); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get contribution: %w", err)
	}
	c.ID = uuid.MustParse(idStr)
	c.MemberID = uuid.MustParse(memberIDStr)
	c.GroupID = uuid.MustParse(groupIDStr)
	return &c, nil
}

func (s *SQLiteStore) ListContributions(groupID uuid.UUID) ([]*models.Contribution, error) {
	rows, err := s.db.Query(
		`SELECT id, member_id, group_id, type, amount, date FROM contributions
		 WHERE group_id = ? ORDER BY date DESC`,
		groupID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}
	defer rows.Close()

	var contributions []*models.Contribution
	for rows.Next() {
		var c models.Contribution
		var idStr, memberIDStr, groupIDStr string
		if err := rows.Scan(&idStr, &memberIDStr, &groupIDStr, &c.Type, &c.Amount, &c.Date); err != nil {
			return nil, fmt.Errorf("failed to scan contribution row: %w", err)
		}
		c.ID = uuid.MustParse(idStr)
		c.MemberID = uuid.MustParse(memberIDStr)
		c.GroupID = uuid.MustParse(groupIDStr)
		contributions = append(contributions, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during contribution iteration: %w", err)
	}
	return contributions, nil
}

func (s *SQLiteStore) UpdateContribution(c *models.Contribution) error {
	result, err := s.db.Exec(
		`UPDATE contributions SET type = ?, amount = ?, date = ? WHERE id = ? AND group_id = ?`,
		c.Type, c.Amount, c.Date, c.ID.String(), c.GroupID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update contribution: %w", err)
	}
	return checkAffected(result)
}

func (s *SQLiteStore) DeleteContribution(groupID, id uuid.UUID) error {
	result, err := s.db.Exec(
		`DELETE FROM contributions WHERE id = ? AND group_id = ?`,
		id.String(), groupID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to delete contribution: %w", err)
	}
	return checkAffected(result)
}

func (s *SQLiteStore) SumContributions(groupID uuid.UUID, typ models.ContributionType, excludeMember *uuid.UUID) (decimal.Decimal, error) {
	if excludeMember != nil {
		return s.sumColumn(
			`SELECT amount FROM contributions WHERE group_id = ? AND type = ? AND member_id != ?`,
			groupID.String(), typ, excludeMember.String(),
		)
	}
	return s.sumColumn(
		`SELECT amount FROM contributions WHERE group_id = ? AND type = ?`,
		groupID.String(), typ,
	)
}

func (s *SQLiteStore) SumMemberContributions(groupID, memberID uuid.UUID, typ models.ContributionType) (decimal.Decimal, error) {
	return s.sumColumn(
		`SELECT amount FROM contributions WHERE group_id = ? AND member_id = ? AND type = ?`,
		groupID.String(), memberID.String(), typ,
	)
}

func (s *SQLiteStore) MemberContributionTotals(groupID, memberID uuid.UUID) (map[models.ContributionType]decimal.Decimal, error) {
	rows, err := s.db.Query(
		`SELECT type, amount FROM contributions WHERE group_id = ? AND member_id = ?`,
		groupID.String(), memberID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query contribution totals: %w", err)
	}
	defer rows.Close()

	totals := map[models.ContributionType]decimal.Decimal{}
	for rows.Next() {
		var typ models.ContributionType
		var amount decimal.Decimal
		if err := rows.Scan(&typ, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan contribution total row: %w", err)
		}
		totals[typ] = totals[typ].Add(amount)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during contribution total iteration: %w", err)
	}
	return totals, nil
}

// ---- penalties ----

const penaltyColumns = `id, member_id, group_id, loan_id, type, amount, amount_paid, description, date`

func (s *SQLiteStore) CreatePenalty(p *models.Penalty) error {
	_, err := s.db.Exec(
		`INSERT INTO penalties (`+penaltyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.MemberID.String(), p.GroupID.String(), loanIDValue(p.LoanID),
		p.Type, p.Amount, p.AmountPaid, p.Description, p.Date,
	)
	if err != nil {
		return fmt.Errorf("failed to create penalty: %w", err)
	}
	return nil
}

func loanIDValue(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func scanPenalty(scan func(dest ...any) error) (*models.Penalty, error) {
	var p models.Penalty
	var idStr, memberIDStr, groupIDStr string
	var loanIDStr sql.NullString
	err := scan(&idStr, &memberIDStr, &groupIDStr, &loanIDStr, &p.Type, &p.Amount, &p.AmountPaid, &p.Description, &p.Date)
	if err != nil {
		return nil, err
	}
	p.ID = uuid.MustParse(idStr)
	p.MemberID = uuid.MustParse(memberIDStr)
	p.GroupID = uuid.MustParse(groupIDStr)
	if loanIDStr.Valid {
		loanID := uuid.MustParse(loanIDStr.String)
		p.LoanID = &loanID
	}
	return &p, nil
}

func (s *SQLiteStore) GetPenalty(groupID, id uuid.UUID) (*models.Penalty, error) {
	row := s.db.QueryRow(
		`SELECT `+penaltyColumns+` FROM penalties WHERE id = ? AND group_id = ?`,
		id.String(), groupID.String(),
	)
	p, err := scanPenalty(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get penalty: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListPenalties(groupID uuid.UUID) ([]*models.Penalty, error) {
	rows, err := s.db.Query(
		`SELECT `+penaltyColumns+` FROM penalties WHERE group_id = ? ORDER BY date DESC`,
		groupID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list penalties: %w", err)
	}
	defer rows.Close()

	var penalties []*models.Penalty
	for rows.Next() {
		p, err := scanPenalty(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan penalty row: %w", err)
		}
		penalties = append(penalties, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during penalty iteration: %w", err)
	}
	return penalties, nil
}

func (s *SQLiteStore) UpdatePenalty(p *models.Penalty) error {
	result, err := s.db.Exec(
		`UPDATE penalties SET amount = ?, description = ? WHERE id = ? AND group_id = ?`,
		p.Amount, p.Description, p.ID.String(), p.GroupID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update penalty: %w", err)
	}
	return checkAffected(result)
}

func (s *SQLiteStore) DeletePenalty(groupID, id uuid.UUID) error {
	result, err := s.db.Exec(
		`DELETE FROM penalties WHERE id = ? AND group_id = ?`,
		id.String(), groupID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to delete penalty: %w", err)
	}
	return checkAffected(result)
}

func (s *SQLiteStore) HasLoanLatePenalty(groupID, loanID uuid.UUID) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM penalties WHERE loan_id = ? AND group_id = ? AND type = ?`,
		loanID.String(), groupID.String(), models.PenaltyTypeLoanLate,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check loan_late penalty: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) InsertLatePenalty(p *models.Penalty) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Re-check inside the transaction so concurrent accrual runs cannot
	// both insert for the same loan.
	var n int
	if err := tx.QueryRow(
		`SELECT COUNT(1) FROM penalties WHERE loan_id = ? AND group_id = ? AND type = ?`,
		p.LoanID.String(), p.GroupID.String(), models.PenaltyTypeLoanLate,
	).Scan(&n); err != nil {
		return fmt.Errorf("failed to check loan_late penalty: %w", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := tx.Exec(
		`INSERT INTO penalties (`+penaltyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.MemberID.String(), p.GroupID.String(), p.LoanID.String(),
		p.Type, p.Amount, p.AmountPaid, p.Description, p.Date,
	); err != nil {
		return fmt.Errorf("failed to insert late penalty: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE loans SET status = ? WHERE id = ? AND group_id = ?`,
		models.LoanStatusOverdue, p.LoanID.String(), p.GroupID.String(),
	); err != nil {
		return fmt.Errorf("failed to mark loan overdue: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) ApplyPenaltyPayment(groupID, penaltyID uuid.UUID, newPaid decimal.Decimal, c *models.Contribution) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE penalties SET amount_paid = ? WHERE id = ? AND group_id = ?`,
		newPaid, penaltyID.String(), groupID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to record penalty payment: %w", err)
	}
	if err := checkAffected(result); err != nil {
		return err
	}

	if _, err := tx.Exec(
		`INSERT INTO contributions (id, member_id, group_id, type, amount, date) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.MemberID.String(), c.GroupID.String(), c.Type, c.Amount, c.Date,
	); err != nil {
		return fmt.Errorf("failed to record penalty payment contribution: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) PenaltyTotals(groupID uuid.UUID) (decimal.Decimal, decimal.Decimal, error) {
	rows, err := s.db.Query(
		`SELECT amount, amount_paid FROM penalties WHERE group_id = ?`,
		groupID.String(),
	)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to query penalty totals: %w", err)
	}
	defer rows.Close()

	imposed, paid := decimal.Zero, decimal.Zero
	for rows.Next() {
		var amount, amountPaid decimal.Decimal
		if err := rows.Scan(&amount, &amountPaid); err != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("failed to scan penalty totals row: %w", err)
		}
		imposed = imposed.Add(amount)
		paid = paid.Add(amountPaid)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("error during penalty totals iteration: %w", err)
	}
	return imposed, paid, nil
}

func (s *SQLiteStore) MemberPenaltyOutstanding(groupID, memberID uuid.UUID) (decimal.Decimal, error) {
	rows, err := s.db.Query(
		`SELECT amount, amount_paid FROM penalties WHERE group_id = ? AND member_id = ?`,
		groupID.String(), memberID.String(),
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query member penalties: %w", err)
	}
	defer rows.Close()

	outstanding := decimal.Zero
	for rows.Next() {
		var amount, amountPaid decimal.Decimal
		if err := rows.Scan(&amount, &amountPaid); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan member penalty row: %w", err)
		}
		outstanding = outstanding.Add(amount.Sub(amountPaid))
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error during member penalty iteration: %w", err)
	}
	return outstanding, nil
}

// ---- aggregates ----

func (s *SQLiteStore) TotalLoanInterest(groupID uuid.UUID) (decimal.Decimal, error) {
	return s.sumColumn(`SELECT interest FROM loans WHERE group_id = ?`, groupID.String())
}

func (s *SQLiteStore) TotalPrincipal(groupID uuid.UUID) (decimal.Decimal, error) {
	return s.sumColumn(`SELECT principal FROM loans WHERE group_id = ?`, groupID.String())
}

// sumColumn adds a single decimal column in Go so no precision is lost to
// SQLite's floating point SUM.
func (s *SQLiteStore) sumColumn(query string, args ...any) (decimal.Decimal, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query sum: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var v decimal.Decimal
		if err := rows.Scan(&v); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan sum row: %w", err)
		}
		total = total.Add(v)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error during sum iteration: %w", err)
	}
	return total, nil
}

func checkAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
