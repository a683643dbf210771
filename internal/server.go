package internal

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.etcd.io/bbolt"

	"github.com/veridom/veridom/connectors"
	"github.com/veridom/veridom/heuristics"
	"github.com/veridom/veridom/scoring"
	"github.com/veridom/veridom/views"
)

var (
	DeleteConfig  = flag.Bool("delete", false, "Delete configuration file")
	Fqdn          = flag.String("fqdn", "http://localhost", "Fully qualified domain name")
	DbLocation    = flag.String("db", "", "Database location")
	DbMode        = flag.String("dbmode", "postgres", "Database mode")
	ConfigPath    = flag.String("config", "/config.json", "Configuration file")
	StaticPath    = flag.String("static", "/static", "Static file path")
	FirstUserMode = flag.Bool("firstuse", false, "First user mode")
	UseSyslog     = flag.Bool("syslog", false, "Enable syslog")
	SyslogHost    = flag.String("syslog-host", "localhost", "Syslog host")
	SyslogIndex   = flag.String("syslog-index", "veridom", "Syslog index")
	RestoreDB     = flag.String("restore-db", "", "filepath to sql file if one needs to restore")
)

const Version = "2026AUG01"

// Sources are the five concurrent lookups behind a scan. They are plain
// funcs so tests can swap any of them without touching the network.
type Sources struct {
	Registration func(ctx context.Context, identity string) connectors.Result[connectors.RegistrationInfo]
	Network      func(ctx context.Context, identity string) connectors.Result[connectors.NetworkInfo]
	Reputation   func(ctx context.Context, identity string) connectors.Result[connectors.ReputationInfo]
	Threat       func(ctx context.Context, identity string) connectors.Result[connectors.ThreatInfo]
	Transport    func(ctx context.Context, identity string) connectors.Result[connectors.TransportInfo]
}

type Server struct {
	Session      *scs.SessionManager      `json:"-"`
	ScanCh       chan ScanRecord          `json:"-"`
	StopCh       chan bool                `json:"-"`
	Cache        *Cache                   `json:"-"`
	DB           Database                 `json:"-"`
	Hub          *Hub                     `json:"-"`
	Gateway      *http.ServeMux           `json:"-"`
	Log          *log.Logger              `json:"-"`
	Memory       *sync.RWMutex            `json:"-"`
	Sources      Sources                  `json:"-"`
	Analyzer     *heuristics.Analyzer     `json:"-"`
	ID           string                   `json:"id"`
	Details      Details                  `json:"details"`
	Gauges       *prometheus.GaugeVec     `json:"-"`
	ScanDuration *prometheus.HistogramVec `json:"-"`

	scanRetention time.Duration
}

type Details struct {
	CorsOrigins   []string           `json:"cors_origins"`
	FirstUserMode bool               `json:"first_user_mode"`
	FQDN          string             `json:"fqdn"`
	SelfDomains   []string           `json:"self_domains"`
	Lists         scoring.Lists      `json:"lists"`
	Address       string             `json:"address"`
	StartTime     time.Time          `json:"start_time"`
	Stats         map[string]float64 `json:"stats"`
}

// Cache is the in-memory hot set: recent scans keyed by identity, the
// log ring, and the rendered chart markup.
type Cache struct {
	Logs         []LogItem             `json:"logs"`
	Charts       []byte                `json:"charts"`
	Coordinates  map[string][]Coord    `json:"coordinates"`
	Freshness    time.Duration         `json:"freshness"`
	StatsHistory []StatItem            `json:"stats_history"`
	Scans        map[string]ScanRecord `json:"scans"`
}

type Coord struct {
	Value float64 `json:"value"`
	Time  int64   `json:"time"`
}

type StatItem struct {
	Time int64              `json:"time"`
	Data map[string]float64 `json:"data"`
}

type LogItem struct {
	Time  time.Time `json:"time"`
	Data  string    `json:"data"`
	Error bool      `json:"error"`
}

func NewServer(id string, address string, dbType string, dbLocation string, logger *log.Logger) *Server {
	var database Database
	memory := &sync.RWMutex{}
	gateway := http.NewServeMux()
	cache := &Cache{
		Logs:         make([]LogItem, 0),
		Coordinates:  make(map[string][]Coord),
		StatsHistory: make([]StatItem, 0),
		Scans:        make(map[string]ScanRecord),
		Freshness:    time.Duration(DefaultCacheFreshness) * time.Second,
		Charts:       []byte(views.NoDataView),
	}
	stopCh := make(chan bool)
	scanCh := make(chan ScanRecord, 200)
	sessionMgr := scs.New()
	sessionMgr.Lifetime = 24 * time.Hour
	sessionMgr.IdleTimeout = 1 * time.Hour
	sessionMgr.Cookie.Persist = true
	sessionMgr.Cookie.Name = "token"
	sessionMgr.Cookie.SameSite = http.SameSiteLaxMode
	sessionMgr.Cookie.HttpOnly = true
	if dbLocation == "" {
		dbLocation = os.Getenv("VERIDOM_DB_LOCATION")
	}
	switch dbType {
	case "bbolt":
		db, err := bbolt.Open(dbLocation, 0600, nil)
		if err != nil {
			log.Fatalf("bbolt could not open database: %v", err)
		}
		database = &BboltDB{DB: db}
	case "postgres":
		db, err := NewPostgresDB(dbLocation)
		if err != nil {
			log.Fatalf("postgres could not open database: %v", err)
		}
		database = db
	default:
		log.Fatalf("unsupported database type: %s", dbType)
	}
	if *RestoreDB != "" {
		if err := database.Restore(*RestoreDB); err != nil {
			log.Fatalf("could not restore database from %s: %v", *RestoreDB, err)
		}
		logger.Printf("database restored from %s", *RestoreDB)
	}
	if id == "" {
		id = fmt.Sprintf("%v-%v-%v", time.Now().Unix(), Version, "non-prod")
	}
	svr := &Server{
		Hub:     NewHub(),
		StopCh:  stopCh,
		Session: sessionMgr,
		ScanCh:  scanCh,
		Cache:   cache,
		DB:      database,
		Gateway: gateway,
		Log:     logger,
		Memory:  memory,
		ID:      id,
		Details: Details{
			FQDN:      *Fqdn,
			Address:   address,
			StartTime: time.Now(),
			Stats:     make(map[string]float64),
		},
	}
	svr.Gauges = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scan_results",
			Help: "Scan outcomes by classification",
		},
		[]string{"classification"},
	)
	svr.ScanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scan_duration_ms",
			Help:    "Duration of full domain scans in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000},
		},
		[]string{"status"},
	)
	prometheus.MustRegister(svr.ScanDuration)
	prometheus.MustRegister(svr.Gauges)
	return svr
}

func (s *Server) addStat(key string, value float64) {
	s.Memory.Lock()
	defer s.Memory.Unlock()
	s.Details.Stats[key] += value
}

func (s *Server) UpdateCache() {
	s.Memory.Lock()
	defer s.Memory.Unlock()

	s.Details.Stats["cache_updates"]++

	stat := StatItem{
		Time: time.Now().Unix(),
		Data: make(map[string]float64),
	}
	for k, v := range s.Details.Stats {
		stat.Data[k] = v
	}
	s.Cache.StatsHistory = append(s.Cache.StatsHistory, stat)
}

func (s *Server) LogError(err error) {
	s.Log.Println(err)
	s.Memory.Lock()
	defer s.Memory.Unlock()
	s.Cache.Logs = append(s.Cache.Logs, LogItem{
		Time:  time.Now(),
		Data:  err.Error(),
		Error: true,
	})
}

func (s *Server) LogInfo(info string) {
	s.Log.Println(info)
	s.Memory.Lock()
	defer s.Memory.Unlock()
	s.Cache.Logs = append(s.Cache.Logs, LogItem{
		Time: time.Now(),
		Data: info,
	})
}

func (s *Server) GetLogs() []LogItem {
	newLogs := make([]LogItem, 0)
	s.Memory.RLock()
	defer s.Memory.RUnlock()
	newLogs = append(newLogs, s.Cache.Logs...)
	return newLogs
}

func (s *Server) AddTokenToSession(r *http.Request, w http.ResponseWriter, tk *Token) error {
	s.Session.Put(r.Context(), "token", tk.Token)
	return nil
}

func (s *Server) DeleteTokenFromSession(r *http.Request) error {
	s.Session.Remove(r.Context(), "token")
	return nil
}

func (s *Server) GetTokenFromSession(r *http.Request) (string, error) {
	tk, ok := s.Session.Get(r.Context(), "token").(string)
	if !ok {
		return "", fmt.Errorf("error getting token from session")
	}
	return tk, nil
}

// ProcessScanResults drains the scan channel: each finished record is
// cached, persisted, and pushed to the requester's open websockets. The
// hourly tick evicts stale cache entries and aged-out rows.
func (s *Server) ProcessScanResults() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case rec := <-s.ScanCh:
			s.Memory.Lock()
			s.Cache.Scans[rec.Identity] = rec
			s.Details.Stats["scans_completed"]++
			s.Details.Stats[string(rec.Classification)]++
			s.Memory.Unlock()

			if err := s.DB.SaveScan(rec); err != nil {
				s.Log.Printf("ERROR: could not store scan %s: %v", rec.ID, err)
			}
			if rec.RequestedBy != "" {
				s.Hub.SendToUser(rec.RequestedBy, Notification{
					Created: rec.ScannedAt,
					Info:    fmt.Sprintf("Scan of %s finished: %s (%d)", rec.Identity, rec.Classification, rec.Score),
					Error:   rec.Classification == scoring.Dangerous,
				})
			}
		case <-ticker.C:
			s.Memory.Lock()
			for k, v := range s.Cache.Scans {
				if !v.Fresh(time.Now(), s.Cache.Freshness) {
					delete(s.Cache.Scans, k)
				}
			}
			retention := s.scanRetention
			s.Memory.Unlock()
			if retention == 0 {
				retention = time.Duration(DefaultScanRetention) * time.Second
			}
			go func() {
				if err := s.DB.CleanScans(retention); err != nil {
					s.Log.Printf("ERROR: scan cleanup failed: %v", err)
				}
			}()
		}
	}
}

// InitializeFromConfig wires the connectors, reference lists, and HTTP
// routes from the loaded configuration.
func (s *Server) InitializeFromConfig(cfg *Configuration, fromFile bool) {
	if fromFile {
		err := cfg.PopulateFromJSONFile(*ConfigPath)
		if err != nil {
			s.Log.Fatalf("could not populate from file: %v", err)
		}
		if *DeleteConfig {
			if err := DeleteConfigFile(*ConfigPath); err != nil {
				s.Log.Fatalf("could not delete config file: %v", err)
			}
			s.Log.Println("config file deleted")
		}
	}

	analyzer := heuristics.NewAnalyzer(cfg.Heuristics)
	s.Analyzer = analyzer

	registration := connectors.NewRegistrationConnector(cfg.Registration, s.Log)
	network := connectors.NewNetworkConnector(cfg.Network, s.Log)
	reputation := connectors.NewReputationConnector(cfg.Reputation, s.Log)
	threat := connectors.NewThreatConnector(cfg.Threat, func(identity string) []string {
		return analyzer.Analyze(identity)
	}, s.Log)
	transport := connectors.NewTransportConnector(s.Log)
	s.Sources = Sources{
		Registration: registration.Fetch,
		Network:      network.Fetch,
		Reputation:   reputation.Fetch,
		Threat:       threat.Fetch,
		Transport:    transport.Fetch,
	}

	s.Details.Lists = cfg.Scoring
	s.Details.SelfDomains = cfg.SelfDomains
	s.Details.FQDN = cfg.FQDN
	s.Details.FirstUserMode = cfg.FirstUserMode
	if *FirstUserMode {
		s.Details.FirstUserMode = true
	}
	if len(cfg.Cors) == 0 {
		s.Details.CorsOrigins = []string{
			cfg.FQDN,
			"http://localhost:8080",
			"http://127.0.0.1:8080",
		}
	} else {
		s.Details.CorsOrigins = cfg.Cors
	}
	s.Details.Address = fmt.Sprintf("%s:%s", cfg.BindAddress, cfg.HTTPPort)
	s.Cache.Freshness = time.Duration(cfg.CacheFreshness) * time.Second
	s.scanRetention = time.Duration(cfg.ScanRetention) * time.Second
	s.Session.Lifetime = time.Duration(cfg.SessionTokenTTL) * time.Hour

	s.Gateway.Handle("/login", s.RateLimit(http.HandlerFunc(s.LoginHandler)))
	s.Gateway.Handle("/scan", s.RateLimit(http.HandlerFunc(s.ValidateSessionToken(s.ScanHandler))))
	s.Gateway.Handle("/recent", http.HandlerFunc(s.ValidateSessionToken(s.RecentScansHandler)))
	s.Gateway.Handle("/result", http.HandlerFunc(s.ValidateSessionToken(s.GetScanHandler)))
	s.Gateway.Handle("/report", http.HandlerFunc(s.ValidateSessionToken(s.ReportHandler)))
	s.Gateway.Handle("/reports", http.HandlerFunc(s.ValidateSessionToken(s.GetReportsHandler)))
	s.Gateway.Handle("/stats", http.HandlerFunc(s.ValidateSessionToken(s.GetStatsHandler)))
	s.Gateway.Handle("/logs", http.HandlerFunc(s.ValidateSessionToken(s.GetLogsHandler)))
	s.Gateway.Handle("/deleteuser", http.HandlerFunc(s.ValidateSessionToken(s.DeleteUserHandler)))
	s.Gateway.Handle("/users", http.HandlerFunc(s.ValidateSessionToken(s.AllUsersHandler)))
	s.Gateway.Handle("/updatekey", http.HandlerFunc(s.ValidateSessionToken(s.NewApiKeyHandler)))
	s.Gateway.Handle("/getuptime", http.HandlerFunc(s.ValidateSessionToken(s.GetRuntimeHandler)))
	s.Gateway.Handle("/backup", http.HandlerFunc(s.ValidateSessionToken(s.BackupHandler)))
	s.Gateway.Handle("/static/", http.StripPrefix("/static/", s.ProtectedFileServer(http.Dir(*StaticPath))))
	s.Gateway.HandleFunc("/ws", s.ValidateSessionToken(s.ServeWs))
	s.Gateway.HandleFunc("/charts", s.ChartViewHandler)
	s.Gateway.HandleFunc("/view-logs", s.ValidateSessionToken(s.LogViewHandler))
	s.Gateway.HandleFunc("/history", s.GetStatHistoryHandler)
	s.Gateway.Handle("/metrics", promhttp.Handler())
	if s.Details.FirstUserMode {
		s.Gateway.HandleFunc("/adduser", s.AddUserHandler)
	} else {
		s.Gateway.Handle("/adduser", http.HandlerFunc(s.ValidateSessionToken(s.AddUserHandler)))
	}
	s.Gateway.Handle("/", http.HandlerFunc(s.LoginViewHandler))
	s.Gateway.HandleFunc("/logout", s.LogoutHandler)
	go s.Hub.Run()
}

func (s *Server) UpdateCharts() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	s.Memory.Lock()
	defer s.Memory.Unlock()
	s.Details.Stats["malloc"] = float64(m.Alloc) / 1024
	s.Details.Stats["goroutines"] = float64(runtime.NumGoroutine())
	s.Details.Stats["heap"] = float64(m.HeapAlloc) / 1024
	s.Details.Stats["heap_objects"] = float64(m.HeapObjects)
	s.Details.Stats["stack"] = float64(m.StackInuse) / 1024
	s.Details.Stats["sys"] = float64(m.Sys) / 1024
	s.Details.Stats["num_gc"] = float64(m.NumGC)
	s.Gauges.WithLabelValues("safe").Set(s.Details.Stats["safe"])
	s.Gauges.WithLabelValues("suspicious").Set(s.Details.Stats["suspicious"])
	s.Gauges.WithLabelValues("dangerous").Set(s.Details.Stats["dangerous"])
	for i, stat := range s.Details.Stats {
		_, ok := s.Cache.Coordinates[i]
		if !ok {
			s.Cache.Coordinates[i] = make([]Coord, 0)
		}
		if len(s.Cache.Coordinates[i]) >= 100 {
			s.Cache.Coordinates[i] = s.Cache.Coordinates[i][1:]
		}
		s.Cache.Coordinates[i] = append(s.Cache.Coordinates[i], Coord{Value: stat, Time: time.Now().Unix()})
	}

	var buf bytes.Buffer
	for k, v := range s.Cache.Coordinates {
		chart := createLineChart(k, v)
		snippet := chart.RenderSnippet()
		buf.Write([]byte(snippet.Element))
		buf.Write([]byte(snippet.Script))
	}
	s.Cache.Charts = buf.Bytes()
}
