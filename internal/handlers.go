package internal

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type ScanRequest struct {
	Domain string `json:"domain"`
	Force  bool   `json:"force"`
}

func (s *Server) ScanHandler(w http.ResponseWriter, r *http.Request) {
	defer s.addStat("scan_requests", 1)
	defer func(start time.Time) {
		s.Log.Println("ScanHandler took", time.Since(start))
	}(time.Now())

	var sr ScanRequest
	err := json.NewDecoder(r.Body).Decode(&sr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if sr.Domain == "" {
		http.Error(w, "missing 'domain' field", http.StatusBadRequest)
		return
	}

	rec, err := s.Scan(r.Context(), sr.Domain, sr.Force, callerEmail(r))
	if err != nil {
		s.Log.Println("ScanHandler error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		s.Log.Println("error encoding scan record:", err)
	}
}

func (s *Server) RecentScansHandler(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = val
		}
	}
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if val, err := strconv.Atoi(p); err == nil && val > 0 {
			page = val
		}
	}
	offset := (page - 1) * limit

	scans, err := s.DB.ListRecentScans(limit, offset)
	if err != nil {
		s.Log.Println("error listing recent scans:", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(scans)
}

func (s *Server) GetScanHandler(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	identity := r.URL.Query().Get("identity")
	if id == "" && identity == "" {
		http.Error(w, "missing id or identity", http.StatusBadRequest)
		return
	}

	var rec ScanRecord
	var err error
	if id != "" {
		rec, err = s.DB.GetScan(id)
	} else {
		rec, err = s.DB.GetScanByIdentity(identity)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "scan not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (s *Server) ReportHandler(w http.ResponseWriter, r *http.Request) {
	defer s.addStat("report_requests", 1)
	var rep Report
	err := json.NewDecoder(r.Body).Decode(&rep)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if rep.Identity == "" || rep.Verdict == "" {
		http.Error(w, "missing 'identity' or 'verdict' field", http.StatusBadRequest)
		return
	}
	switch rep.Verdict {
	case "false_positive", "confirmed_threat", "note":
	default:
		http.Error(w, "verdict must be one of false_positive, confirmed_threat, note", http.StatusBadRequest)
		return
	}

	rep.ID = uuid.New().String()
	rep.Email = callerEmail(r)
	rep.CreatedAt = time.Now()

	if err := s.DB.SaveReport(rep); err != nil {
		s.Log.Println("error saving report:", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.LogInfo(fmt.Sprintf("user %s filed a %s report on %s", rep.Email, rep.Verdict, rep.Identity))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rep)
}

func (s *Server) GetReportsHandler(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		http.Error(w, "missing identity", http.StatusBadRequest)
		return
	}
	reports, err := s.DB.GetReports(identity)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reports)
}

func (s *Server) GetStatsHandler(w http.ResponseWriter, r *http.Request) {
	defer func(start time.Time) {
		s.Log.Println("GetStatsHandler took", time.Since(start))
	}(time.Now())
	s.Memory.RLock()
	defer s.Memory.RUnlock()
	out, err := json.Marshal(s.Details.Stats)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(out)
}

func (s *Server) GetStatHistoryHandler(w http.ResponseWriter, r *http.Request) {
	defer func(start time.Time) {
		s.Log.Println("GetStatHistoryHandler took", time.Since(start))
	}(time.Now())
	s.Memory.RLock()
	out, err := json.Marshal(s.Cache.StatsHistory)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		s.Memory.RUnlock()
		return
	}
	s.Memory.RUnlock()
	w.Write(out)
}

func (s *Server) GetLogsHandler(w http.ResponseWriter, r *http.Request) {
	var MaxLogs = 1000
	start, _ := strconv.Atoi(r.URL.Query().Get("start"))
	end, _ := strconv.Atoi(r.URL.Query().Get("end"))
	s.Memory.RLock()
	defer s.Memory.RUnlock()
	if start > len(s.Cache.Logs) {
		tmp := []LogItem{}
		out, err := json.Marshal(tmp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Write(out)
		return
	}
	if start < 1 {
		start = 0
	}
	if end < 1 {
		end = start + 50
	}
	if end > len(s.Cache.Logs) {
		end = len(s.Cache.Logs)
	}
	if end < start {
		end = start
	}
	if end-start > MaxLogs {
		end = start + MaxLogs
	}
	out, err := json.Marshal(s.Cache.Logs[start:end])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(out)
}

type NewUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Admin    string `json:"admin"`
}

func (s *Server) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	defer func(start time.Time) {
		s.Log.Println("AddUserHandler took", time.Since(start))
	}(time.Now())
	var nur NewUserRequest
	err := json.NewDecoder(r.Body).Decode(&nur)
	if err != nil {
		s.Log.Println("error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if nur.Email == "" {
		http.Error(w, "missing 'email' field", http.StatusBadRequest)
		return
	}
	var b bool
	if nur.Admin == "on" || nur.Admin == "true" {
		b = true
	}
	user, err := NewUser(nur.Email, b)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if nur.Password != "" {
		err = user.SetPassword(nur.Password)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	err = s.DB.AddUser(*user)
	if err != nil {
		s.Log.Println("error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out, err := json.Marshal(user)
	if err != nil {
		s.Log.Println("error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(out)
}

func (s *Server) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	s.Log.Println("DeleteUserHandler")
	email := r.FormValue("email")
	if email == "" {
		http.Error(w, "missing 'email' field", http.StatusBadRequest)
		return
	}
	err := s.DB.DeleteUser(email)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write([]byte("ok"))
}

func (s *Server) AllUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := s.DB.GetAllUsers()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for i := range users {
		users[i].Sanitize()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(users)
}

func (s *Server) NewApiKeyHandler(w http.ResponseWriter, r *http.Request) {
	email := callerEmail(r)
	user, err := s.DB.GetUserByEmail(email)
	if err != nil {
		s.Log.Println("error getting user by email:", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	err = user.UpdateApiKey()
	if err != nil {
		s.Log.Println("error updating api key:", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	err = s.DB.AddUser(user)
	if err != nil {
		s.Log.Println("error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out, err := json.Marshal(user)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(out)
}

func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	tkn, _ := s.GetTokenFromSession(r)
	if tkn != "" {
		http.Error(w, "already logged in", http.StatusForbidden)
		return
	}
	email := r.FormValue("username")
	password := r.FormValue("password")
	u, err := s.DB.GetUserByEmail(email)
	if err != nil || u.Email == "" {
		s.Log.Println("LoginHandler: user not found", email)
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	ok, err := u.PasswordMatches(password)
	if err != nil {
		s.Log.Println("error checking password", err, email)
		http.Error(w, "error checking password", http.StatusInternalServerError)
		return
	}
	if !ok {
		s.Log.Println("password does not match", email)
		http.Error(w, "password does not match", http.StatusUnauthorized)
		return
	}
	tk, err := CreateToken(u.ID, u.Email, s.Session.Lifetime)
	if err != nil {
		s.Log.Println("error creating token", err)
		http.Error(w, "error creating token", http.StatusInternalServerError)
		return
	}
	err = s.DB.SaveToken(*tk)
	if err != nil {
		s.Log.Println("error saving token", err)
		http.Error(w, "error saving token", http.StatusInternalServerError)
		return
	}
	err = s.AddTokenToSession(r, w, tk)
	if err != nil {
		s.Log.Println("error adding token to session", err)
		http.Error(w, "error adding token to session", http.StatusInternalServerError)
		return
	}
	s.Log.Println("login successful", email)
	http.Redirect(w, r, "/charts", http.StatusSeeOther)
	s.Memory.Lock()
	s.Details.Stats["logins"]++
	s.Memory.Unlock()
}

func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	err := s.DeleteTokenFromSession(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) GetRuntimeHandler(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.Details.StartTime)
	out := map[string]string{
		"uptime":     uptime.String(),
		"start_time": s.Details.StartTime.Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) BackupHandler(w http.ResponseWriter, r *http.Request) {
	user := callerEmail(r)
	s.LogInfo(fmt.Sprintf("%v requested a backup", user))
	u, err := s.DB.GetUserByEmail(user)
	if err != nil {
		http.Error(w, "error retrieving user info", http.StatusInternalServerError)
		return
	}
	if !u.Admin {
		http.Error(w, "only admin users can request backups", http.StatusForbidden)
		return
	}

	// Headers have to go out before the first byte of the stream.
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "gzip")
	filename := fmt.Sprintf("veridom_backup_%s.sql.gz", time.Now().Format("2006-01-02_150405"))
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")

	gz := gzip.NewWriter(w)
	defer gz.Close()

	err = s.DB.Backup(gz)
	if err != nil {
		// Headers are already sent, so a clean http.Error is off the
		// table. Log it for the operator instead.
		s.Log.Printf("ERROR during backup stream: %v", err)
		return
	}

	s.LogInfo("Backup stream completed successfully.")
}
