package main

import (
	"flag"
	"fmt"
	"log"
	"log/syslog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veridom/veridom/internal"
)

func main() {
	var logger *log.Logger
	flag.Parse()
	var c internal.Configuration
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)

	if *internal.UseSyslog {
		syslogWriter, err := syslog.Dial("udp", *internal.SyslogHost, syslog.LOG_INFO, *internal.SyslogIndex)
		if err != nil {
			fmt.Println("Error connecting to syslog:", err)
			os.Exit(1)
		}
		logger = log.New(syslogWriter, "", log.LstdFlags)
	} else {
		file, err := os.OpenFile("veridom.log", os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			fmt.Println("Error opening log file:", err)
			os.Exit(1)
		}
		defer file.Close()
		logger = log.New(file, "", log.LstdFlags)
	}
	s := internal.NewServer("", ":8080", *internal.DbMode, *internal.DbLocation, logger)

	s.InitializeFromConfig(&c, true)
	ticker := time.NewTicker(time.Duration(c.StatCacheTickRate) * time.Second)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.UpdateCharts()
				go s.UpdateCache()
			case <-sigs:
				s.Log.Println("Shutting down")
				ticker.Stop()
				os.Exit(0)
			case <-s.StopCh:
				s.Log.Println("Shutting down")
				ticker.Stop()
				os.Exit(0)
			}
		}
	}()

	sessionHandler := s.Session.LoadAndSave(s.Gateway)
	finalHandler := s.CORSMiddleware(sessionHandler)
	svr := &http.Server{
		Addr:    s.Details.Address,
		Handler: finalHandler,
	}
	go s.ProcessScanResults()
	s.LogInfo(fmt.Sprintf("Server started at %s", s.Details.Address))
	log.Fatal(svr.ListenAndServe())
}
