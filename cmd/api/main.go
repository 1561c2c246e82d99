package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/jmassawe/kikoba/pkg/config"
	"github.com/jmassawe/kikoba/pkg/ledger"
	"github.com/jmassawe/kikoba/pkg/logger"
	"github.com/jmassawe/kikoba/pkg/models"
	"github.com/jmassawe/kikoba/pkg/settings"
	"github.com/jmassawe/kikoba/pkg/store"
)

// Server is the thin HTTP front over the ledger engine. It holds no
// business rules: every request parses input, calls the engine, and maps
// the error taxonomy to a status code.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage
}

func NewServer(s store.Storage) *Server {
	return &Server{
		ledger:  ledger.NewLedger(s),
		storage: s,
	}
}

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("rate limit exceeded", "method", r.Method, "path", r.URL.Path, "remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var ve *ledger.ValidationError
	var nf *ledger.NotFoundError
	var ce *ledger.ConflictError
	switch {
	case errors.As(err, &ve):
		http.Error(w, ve.Error(), http.StatusBadRequest)
	case errors.As(err, &nf):
		http.Error(w, nf.Error(), http.StatusNotFound)
	case errors.As(err, &ce):
		http.Error(w, ce.Error(), http.StatusConflict)
	default:
		logger.L.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func groupID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["gid"])
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

// groupExists writes the error response itself and reports whether the
// handler should continue.
func (s *Server) groupExists(w http.ResponseWriter, gid uuid.UUID) bool {
	if _, err := s.storage.GetGroup(gid); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "group not found", http.StatusNotFound)
		} else {
			writeError(w, err)
		}
		return false
	}
	return true
}

// ---- groups ----

func (s *Server) createGroupHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	g, err := s.ledger.CreateGroup(req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	d, err := s.ledger.GetDashboard(gid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ---- settings ----

func (s *Server) getSettingsHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	if !s.groupExists(w, gid) {
		return
	}
	st, err := s.ledger.Settings().Load(gid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) putSettingsHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	if !s.groupExists(w, gid) {
		return
	}
	var pairs map[string]string
	if err := json.NewDecoder(r.Body).Decode(&pairs); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for key, value := range pairs {
		if err := s.ledger.Settings().Set(gid, key, value); err != nil {
			writeError(w, err)
			return
		}
	}
	st, err := s.ledger.Settings().Load(gid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ---- loan rules ----

func (s *Server) getLoanRulesHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	rules, err := s.ledger.LoanRules(gid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) putLoanRulesHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	var rules []*models.LoanRule
	if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ledger.ReplaceLoanRules(gid, rules); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// ---- members ----

func (s *Server) addMemberHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m, err := s.ledger.AddMember(gid, req.Name, req.Phone)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) listMembersHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	members, err := s.ledger.Members(gid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) updateMemberHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid member ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ledger.UpdateMember(gid, id, req.Name, req.Phone); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) deleteMemberHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid member ID", http.StatusBadRequest)
		return
	}
	if err := s.ledger.DeleteMember(gid, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- loans ----

func (s *Server) issueLoanHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	var req struct {
		MemberID  uuid.UUID       `json:"member_id"`
		Principal decimal.Decimal `json:"principal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result, err := s.ledger.IssueLoan(gid, req.MemberID, req.Principal)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	loans, err := s.ledger.Loans(gid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) updateLoanHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return
	}
	var req struct {
		DueDate string            `json:"due_date"`
		Status  models.LoanStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	due, err := time.Parse(settings.DateLayout, req.DueDate)
	if err != nil {
		http.Error(w, "invalid date format", http.StatusBadRequest)
		return
	}
	if err := s.ledger.UpdateLoanSchedule(gid, id, due, req.Status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) recordRepaymentHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	status, err := s.ledger.RecordRepayment(gid, id, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": status})
}

func (s *Server) listRepaymentsHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return
	}
	repayments, err := s.ledger.Repayments(gid, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repayments)
}

// ---- contributions ----

func (s *Server) recordContributionHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	var req struct {
		MemberID uuid.UUID               `json:"member_id"`
		Type     models.ContributionType `json:"type"`
		Amount   decimal.Decimal         `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, err := s.ledger.RecordContribution(gid, req.MemberID, req.Type, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if c == nil {
		// rejesho: routed to a repayment, no contribution row
		writeJSON(w, http.StatusCreated, map[string]string{"status": "success"})
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) listContributionsHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	contributions, err := s.storage.ListContributions(gid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contributions)
}

func (s *Server) updateContributionHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid contribution ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Type   models.ContributionType `json:"type"`
		Amount decimal.Decimal         `json:"amount"`
		Date   string                  `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	date, err := time.Parse(settings.DateLayout, req.Date)
	if err != nil {
		http.Error(w, "invalid date format", http.StatusBadRequest)
		return
	}
	if err := s.ledger.UpdateContribution(gid, id, req.Type, req.Amount, date); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) deleteContributionHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid contribution ID", http.StatusBadRequest)
		return
	}
	if err := s.ledger.DeleteContribution(gid, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) jamiiDeductionHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, err := s.ledger.RecordJamiiDeduction(gid, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ---- penalties ----

func (s *Server) addPenaltyHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	var req struct {
		MemberID    uuid.UUID       `json:"member_id"`
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := s.ledger.RecordManualPenalty(gid, req.MemberID, req.Amount, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) listPenaltiesHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	penalties, outstanding, err := s.ledger.Penalties(gid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_outstanding": outstanding,
		"ledger":            penalties,
	})
}

func (s *Server) payPenaltyHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid penalty ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	applied, err := s.ledger.PayPenalty(gid, id, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": applied})
}

func (s *Server) updatePenaltyHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid penalty ID", http.StatusBadRequest)
		return
	}
	var req struct {
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ledger.UpdatePenalty(gid, id, req.Amount, req.Description); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) deletePenaltyHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "invalid penalty ID", http.StatusBadRequest)
		return
	}
	if err := s.ledger.DeletePenalty(gid, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- reports and profits ----

func (s *Server) reportHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	report, err := s.ledger.Report(gid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}

func (s *Server) profitsHandler(w http.ResponseWriter, r *http.Request) {
	gid, err := groupID(r)
	if err != nil {
		http.Error(w, "invalid group ID", http.StatusBadRequest)
		return
	}
	var req struct {
		JamiiUsed decimal.Decimal `json:"jamii_used"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	dist, err := s.ledger.Distribute(gid, req.JamiiUsed)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dist)
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/groups", s.createGroupHandler).Methods("POST")
	router.HandleFunc("/groups/{gid}/dashboard", s.dashboardHandler).Methods("GET")

	router.HandleFunc("/groups/{gid}/settings", s.getSettingsHandler).Methods("GET")
	router.HandleFunc("/groups/{gid}/settings", s.putSettingsHandler).Methods("PUT")
	router.HandleFunc("/groups/{gid}/loan-rules", s.getLoanRulesHandler).Methods("GET")
	router.HandleFunc("/groups/{gid}/loan-rules", s.putLoanRulesHandler).Methods("PUT")

	router.HandleFunc("/groups/{gid}/members", s.addMemberHandler).Methods("POST")
	router.HandleFunc("/groups/{gid}/members", s.listMembersHandler).Methods("GET")
	router.HandleFunc("/groups/{gid}/members/{id}", s.updateMemberHandler).Methods("PUT")
	router.HandleFunc("/groups/{gid}/members/{id}", s.deleteMemberHandler).Methods("DELETE")

	router.HandleFunc("/groups/{gid}/loans", s.issueLoanHandler).Methods("POST")
	router.HandleFunc("/groups/{gid}/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/groups/{gid}/loans/{id}", s.updateLoanHandler).Methods("PUT")
	router.HandleFunc("/groups/{gid}/loans/{id}/repayments", s.recordRepaymentHandler).Methods("POST")
	router.HandleFunc("/groups/{gid}/loans/{id}/repayments", s.listRepaymentsHandler).Methods("GET")

	router.HandleFunc("/groups/{gid}/contributions", s.recordContributionHandler).Methods("POST")
	router.HandleFunc("/groups/{gid}/contributions", s.listContributionsHandler).Methods("GET")
	router.HandleFunc("/groups/{gid}/contributions/{id}", s.updateContributionHandler).Methods("PUT")
	router.HandleFunc("/groups/{gid}/contributions/{id}", s.deleteContributionHandler).Methods("DELETE")
	router.HandleFunc("/groups/{gid}/jamii-deductions", s.jamiiDeductionHandler).Methods("POST")

	router.HandleFunc("/groups/{gid}/penalties", s.addPenaltyHandler).Methods("POST")
	router.HandleFunc("/groups/{gid}/penalties", s.listPenaltiesHandler).Methods("GET")
	router.HandleFunc("/groups/{gid}/penalties/{id}", s.updatePenaltyHandler).Methods("PUT")
	router.HandleFunc("/groups/{gid}/penalties/{id}", s.deletePenaltyHandler).Methods("DELETE")
	router.HandleFunc("/groups/{gid}/penalties/{id}/payments", s.payPenaltyHandler).Methods("POST")

	router.HandleFunc("/groups/{gid}/report", s.reportHandler).Methods("GET")
	router.HandleFunc("/groups/{gid}/profits", s.profitsHandler).Methods("POST")

	return router
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)

	sqliteStore, err := store.NewSQLiteStore(config.Cfg.DatabasePath)
	if err != nil {
		logger.L.Error("failed to initialize SQLite store", "error", err)
		os.Exit(1)
	}
	defer sqliteStore.Close()

	server := NewServer(sqliteStore)
	router := server.routes()

	addr := ":" + config.Cfg.Port
	logger.L.Info("kikoba server starting", "addr", addr)
	if err := http.ListenAndServe(addr, rateLimitMiddleware(router)); err != nil {
		logger.L.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
