package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port           string
	TickMS         int
	CountdownSecs  int
	BufferCapacity int
	Levels         int
	SignalSource   string // synthetic, serial, tcp or nats
	SyntheticRate  int    // Hz
	SerialPort     string
	SerialBaud     int
	SignalAddr     string
	NATSURL        string
	NATSSubject    string
	ProfilesFile   string
	LogLevel       string
}

func Load() Config {
	cfg := Config{
		Port:           getEnv("PORT", "8080"),
		TickMS:         getEnvInt("TICK_MS", 100),
		CountdownSecs:  getEnvInt("COUNTDOWN_SECS", 10),
		BufferCapacity: getEnvInt("BUFFER_CAPACITY", 5000),
		Levels:         getEnvInt("LEVELS", 3),
		SignalSource:   getEnv("SIGNAL_SOURCE", "synthetic"),
		SyntheticRate:  getEnvInt("SYNTHETIC_RATE", 10),
		SerialPort:     os.Getenv("SERIAL_PORT"),
		SerialBaud:     getEnvInt("SERIAL_BAUD", 9600),
		SignalAddr:     os.Getenv("SIGNAL_ADDR"),
		NATSURL:        getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		NATSSubject:    getEnv("NATS_SUBJECT", "ppg.raw"),
		ProfilesFile:   os.Getenv("PROFILES_FILE"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
