package logger

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger define a interface para logging estruturado.
// A aplicação (Handler, Service, Repository) deve depender apenas desta interface.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error)
	Fatal(msg string, err error)
}

// LogEntry define a estrutura de um log para garantir o formato JSON.
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Service   string                 `json:"service"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

const serviceName = "palette-ledger"

var levels = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
	"fatal": 4,
}

// SimpleLogger é uma implementação concreta da interface Logger
// que escreve uma linha JSON por entrada.
type SimpleLogger struct {
	logLevel int
	out      *log.Logger
	mu       sync.Mutex
	exit     func(code int)
}

// NewLogger cria e retorna uma nova instância do Logger escrevendo em stdout.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stdout)
}

// NewLoggerWithWriter cria um Logger que escreve no writer informado (usado em testes).
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	current, ok := levels[strings.ToLower(level)]
	if !ok {
		current = levels["info"]
	}
	return &SimpleLogger{
		logLevel: current,
		out:      log.New(w, "", 0),
		exit:     os.Exit,
	}
}

// NewNopLogger descarta todas as entradas.
func NewNopLogger() Logger {
	return NewLoggerWithWriter("fatal", io.Discard)
}

// logf formata a entrada como JSON e a escreve na saída.
func (l *SimpleLogger) logf(level, msg string, fields map[string]interface{}, err error) {
	if levels[level] < l.logLevel {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     strings.ToUpper(level),
		Message:   msg,
		Service:   serviceName,
		Fields:    fields,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	jsonBytes, marshalErr := json.Marshal(entry)
	if marshalErr != nil {
		// Campos não serializáveis: registramos sem eles.
		entry.Fields = map[string]interface{}{"fields_error": marshalErr.Error()}
		jsonBytes, _ = json.Marshal(entry)
	}

	l.mu.Lock()
	l.out.Println(string(jsonBytes))
	l.mu.Unlock()

	if level == "fatal" {
		l.exit(1)
	}
}

// Implementações da Interface Logger

func (l *SimpleLogger) Debug(msg string, fields map[string]interface{}) {
	l.logf("debug", msg, fields, nil)
}

func (l *SimpleLogger) Info(msg string, fields map[string]interface{}) {
	l.logf("info", msg, fields, nil)
}

func (l *SimpleLogger) Warn(msg string, fields map[string]interface{}) {
	l.logf("warn", msg, fields, nil)
}

func (l *SimpleLogger) Error(msg string, err error) {
	l.logf("error", msg, nil, err)
}

func (l *SimpleLogger) Fatal(msg string, err error) {
	l.logf("fatal", msg, nil, err)
}
