package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sbilibin2017/gw-accounts/internal/handlers"
	"github.com/sbilibin2017/gw-accounts/internal/jwt"
	"github.com/sbilibin2017/gw-accounts/internal/models"
	"github.com/sbilibin2017/gw-accounts/internal/repositories"
	"github.com/sbilibin2017/gw-accounts/internal/services"
	"github.com/sbilibin2017/gw-accounts/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// resetFlags resets the global flag.CommandLine to avoid "flag redefined" panic
func resetFlags() {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)
}

var configKeys = []string{
	"APP_HOST", "APP_PORT", "APP_LOG_LEVEL", "TRUSTED_PROXY",
	"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB",
	"POSTGRES_MAX_OPEN_CONNS", "POSTGRES_MAX_IDLE_CONNS",
	"REDIS_HOST", "REDIS_PORT", "REDIS_DB", "REDIS_PASSWORD", "REDIS_POOL_SIZE", "REDIS_MIN_IDLE_CONNS",
	"REGISTER_THROTTLE_LIMIT", "REGISTER_THROTTLE_WINDOW_SECOND",
	"KAFKA_BROKERS", "KAFKA_TOPIC", "GRPC_HEALTH_PORT", "JWT_SECRET_KEY", "JWT_EXP_SECOND",
}

// resetEnv blanks env vars used by parseConfig for the duration of the test
func resetEnv(t *testing.T) {
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestParseFlags_Default(t *testing.T) {
	resetFlags()
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"cmd"}
	assert.Equal(t, "config.env", parseFlags())
}

func TestParseFlags_Custom(t *testing.T) {
	resetFlags()
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"cmd", "-c", "myconfig.env"}
	assert.Equal(t, "myconfig.env", parseFlags())
}

func TestPrintBuildInfo_Output(t *testing.T) {
	// Capture stdout
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	buildVersion = "v1.0.0"
	buildCommit = "abcd1234"
	buildDate = "2025-09-26"

	printBuildInfo()

	w.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	output := buf.String()
	os.Stdout = oldStdout

	assert.Contains(t, output, "Version: v1.0.0")
	assert.Contains(t, output, "Commit: abcd1234")
	assert.Contains(t, output, "Build: 2025-09-26")
}

func TestParseConfig_Defaults(t *testing.T) {
	resetEnv(t)

	cfg, err := parseConfig("nonexistent.env")
	require.NoError(t, err)

	assert.Equal(t, config{
		AppHost:           "localhost",
		AppPort:           "8080",
		LogLevel:          "info",
		PGHost:            "localhost",
		PGPort:            5432,
		PGUser:            "user",
		PGPassword:        "password",
		PGDB:              "database",
		PGMaxOpenConns:    16,
		PGMaxIdleConns:    8,
		RedisHost:         "localhost",
		RedisPort:         6379,
		RedisDB:           0,
		RedisPassword:     "",
		RedisPoolSize:     10,
		RedisMinIdleConns: 2,
		ThrottleLimit:     20,
		ThrottleWindow:    time.Hour,
		KafkaTopic:        "accounts.user-registered",
		GRPCHealthPort:    "50051",
		JWTSecretKey:      "my_super_secret_key",
		JWTExp:            time.Hour,
	}, cfg)
}

func TestParseConfig_CustomEnv(t *testing.T) {
	resetEnv(t)
	t.Setenv("APP_HOST", "127.0.0.1")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("APP_LOG_LEVEL", "debug")
	t.Setenv("TRUSTED_PROXY", "true")
	t.Setenv("POSTGRES_HOST", "pg.example.com")
	t.Setenv("POSTGRES_PORT", "5433")
	t.Setenv("POSTGRES_USER", "admin")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "mydb")
	t.Setenv("POSTGRES_MAX_OPEN_CONNS", "20")
	t.Setenv("POSTGRES_MAX_IDLE_CONNS", "10")
	t.Setenv("REDIS_HOST", "redis.example.com")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_PASSWORD", "redispass")
	t.Setenv("REDIS_POOL_SIZE", "15")
	t.Setenv("REDIS_MIN_IDLE_CONNS", "5")
	t.Setenv("REGISTER_THROTTLE_LIMIT", "0")
	t.Setenv("REGISTER_THROTTLE_WINDOW_SECOND", "60")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("KAFKA_TOPIC", "users")
	t.Setenv("GRPC_HEALTH_PORT", "50052")
	t.Setenv("JWT_SECRET_KEY", "supersecret")
	t.Setenv("JWT_EXP_SECOND", "300")

	cfg, err := parseConfig("nonexistent.env")
	require.NoError(t, err)

	assert.Equal(t, config{
		AppHost:           "127.0.0.1",
		AppPort:           "9090",
		LogLevel:          "debug",
		TrustedProxy:      true,
		PGHost:            "pg.example.com",
		PGPort:            5433,
		PGUser:            "admin",
		PGPassword:        "secret",
		PGDB:              "mydb",
		PGMaxOpenConns:    20,
		PGMaxIdleConns:    10,
		RedisHost:         "redis.example.com",
		RedisPort:         6380,
		RedisDB:           2,
		RedisPassword:     "redispass",
		RedisPoolSize:     15,
		RedisMinIdleConns: 5,
		ThrottleLimit:     0,
		ThrottleWindow:    time.Minute,
		KafkaBrokers:      []string{"k1:9092", "k2:9092"},
		KafkaTopic:        "users",
		GRPCHealthPort:    "50052",
		JWTSecretKey:      "supersecret",
		JWTExp:            5 * time.Minute,
	}, cfg)
}

func TestParseConfig_File(t *testing.T) {
	resetEnv(t)
	// godotenv never overrides variables that are already set, even blank ones.
	os.Unsetenv("APP_PORT")
	os.Unsetenv("POSTGRES_DB")

	path := t.TempDir() + "/test.env"
	require.NoError(t, os.WriteFile(path, []byte("APP_PORT=7070\nPOSTGRES_DB=fromfile\n"), 0o600))

	cfg, err := parseConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.AppPort)
	assert.Equal(t, "fromfile", cfg.PGDB)
	assert.Equal(t, "localhost", cfg.AppHost)
}

func TestParseConfig_InvalidInt(t *testing.T) {
	resetEnv(t)
	t.Setenv("POSTGRES_PORT", "not-a-number")

	_, err := parseConfig("nonexistent.env")
	assert.ErrorContains(t, err, "POSTGRES_PORT")
}

func TestParseConfig_InvalidBool(t *testing.T) {
	resetEnv(t)
	t.Setenv("TRUSTED_PROXY", "maybe")

	_, err := parseConfig("nonexistent.env")
	assert.ErrorContains(t, err, "TRUSTED_PROXY")
}

type countingHitter struct {
	counts map[string]int64
}

func (h *countingHitter) Hit(_ context.Context, key string) (int64, time.Duration, error) {
	h.counts[key]++
	return h.counts[key], time.Minute, nil
}

func TestRouter_ThrottleKey(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		wantCodes  []int
		wantKeys   map[string]int64
	}{
		{
			name:       "forwarding headers ignored by default",
			trustProxy: false,
			wantCodes:  []int{http.StatusCreated, http.StatusTooManyRequests, http.StatusTooManyRequests},
			wantKeys:   map[string]int64{"10.0.0.1": 3},
		},
		{
			name:       "forwarding headers honored behind trusted proxy",
			trustProxy: true,
			wantCodes:  []int{http.StatusCreated, http.StatusCreated, http.StatusCreated},
			wantKeys:   map[string]int64{"203.0.113.0": 1, "203.0.113.1": 1, "203.0.113.2": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			sqlDB, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer sqlDB.Close()
			db := sqlx.NewDb(sqlDB, "sqlmock")

			registerer := handlers.NewMockRegisterer(ctrl)
			for _, code := range tt.wantCodes {
				if code == http.StatusCreated {
					mock.ExpectBegin()
					mock.ExpectCommit()
					registerer.EXPECT().
						Register(gomock.Any(), gomock.Any()).
						Return(&models.RegisterResponse{ID: uuid.New(), Username: "foobar", Email: "foobar@example.com"}, nil)
				}
			}

			hitter := &countingHitter{counts: make(map[string]int64)}
			router := newRouter(db, registerer, hitter, 1, tt.trustProxy, "")

			var codes []int
			for i := range tt.wantCodes {
				body := `{"username":"foobar","email":"foobar@example.com","password":"Somepassword1@"}`
				req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
				req.RemoteAddr = "10.0.0.1:5555"
				req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))

				rr := httptest.NewRecorder()
				router.ServeHTTP(rr, req)
				codes = append(codes, rr.Code)
			}

			assert.Equal(t, tt.wantCodes, codes)
			assert.Equal(t, tt.wantKeys, hitter.counts)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func startPostgres(t *testing.T, ctx context.Context) (host string, port int) {
	t.Helper()

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		Env:          map[string]string{"POSTGRES_PASSWORD": "password", "POSTGRES_DB": "testdb", "POSTGRES_USER": "user"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp"),
	}
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: pgReq, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	host, _ = pgContainer.Host(ctx)
	mapped, _ := pgContainer.MappedPort(ctx, "5432")
	return host, mapped.Int()
}

func connectWithSchema(t *testing.T, host string, port int) *sqlx.DB {
	t.Helper()

	dsn := fmt.Sprintf("postgres://user:password@%s:%d/testdb?sslmode=disable", host, port)

	var db *sqlx.DB
	var err error
	for i := 0; i < 10; i++ {
		db, err = sqlx.Connect("pgx", dsn)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(repositories.Schema)
	require.NoError(t, err)
	return db
}

// TestRegisterFlow drives the endpoint end to end against Postgres,
// starting from a store that holds one user.
func TestRegisterFlow(t *testing.T) {
	ctx := context.Background()
	host, port := startPostgres(t, ctx)
	db := connectWithSchema(t, host, port)

	readRepo := repositories.NewUserReadRepository(db)
	writeRepo := repositories.NewUserWriteRepository(db)
	v, err := validation.New()
	require.NoError(t, err)
	tokens := jwt.New(jwt.WithSecretKey("testsecret"))
	svc := services.NewRegistrationService(readRepo, writeRepo, v, tokens, nil)

	_, err = svc.Register(ctx, registerRequest("testuser", "test@example.com", "Testpassword1!"))
	require.NoError(t, err)

	ts := httptest.NewServer(newRouter(db, svc, nil, 0, false, "/swagger/doc.json"))
	defer ts.Close()

	post := func(t *testing.T, path string, body map[string]string) (int, map[string]any) {
		t.Helper()
		b, _ := json.Marshal(body)
		resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
		require.NoError(t, err)
		defer resp.Body.Close()

		var data map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
		return resp.StatusCode, data
	}

	count := func(t *testing.T) int {
		t.Helper()
		n, err := readRepo.Count(ctx)
		require.NoError(t, err)
		return n
	}

	rejected := []struct {
		name  string
		body  map[string]string
		field string
	}{
		{"short password", map[string]string{"username": "foobar", "email": "foobarbaz@example.com", "password": "f@2F"}, "password"},
		{"no password", map[string]string{"username": "foobar", "email": "foobarbaz@example.com", "password": ""}, "password"},
		{"password has no number", map[string]string{"username": "foobar", "email": "foobarbaz@example.com", "password": "TestPassword@"}, "password"},
		{"password has no upper", map[string]string{"username": "foobar", "email": "foobarbaz@example.com", "password": "testpassword1@"}, "password"},
		{"password has no lower", map[string]string{"username": "foobar", "email": "foobarbaz@example.com", "password": "TESTPASSWORD1@"}, "password"},
		{"password has no symbol", map[string]string{"username": "foobar", "email": "foobarbaz@example.com", "password": "testPassword1"}, "password"},
		{"too long username", map[string]string{"username": strings.Repeat("foo", 30), "email": "foobarbaz@example.com", "password": "Somepassword1@"}, "username"},
		{"no username", map[string]string{"username": "", "email": "foobarbaz@example.com", "password": "Somepassword1@"}, "username"},
		{"preexisting username", map[string]string{"username": "testuser", "email": "foobarbaz@example.com", "password": "Somepassword1@"}, "username"},
		{"invalid email", map[string]string{"username": "foobar", "email": "testing", "passsword": "Somepassword1@"}, "email"},
		{"no email", map[string]string{"username": "foobar", "email": "", "password": "Somepassword1@"}, "email"},
		{"preexisting email", map[string]string{"username": "foobar", "email": "test@example.com", "password": "Somepassword1@"}, "email"},
	}

	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			status, data := post(t, "/register", tt.body)

			assert.Equal(t, 1, count(t))
			assert.Equal(t, http.StatusBadRequest, status)
			msgs, ok := data[tt.field].([]any)
			require.True(t, ok, "no %s errors in %v", tt.field, data)
			assert.Len(t, msgs, 1)
		})
	}

	t.Run("register user", func(t *testing.T) {
		body := map[string]string{"username": "foobar", "email": "foobar@example.com", "password": "Somepassword1@"}
		status, data := post(t, "/register", body)

		assert.Equal(t, 2, count(t))
		assert.Equal(t, http.StatusCreated, status)
		assert.Equal(t, "foobar", data["username"])
		assert.Equal(t, "foobar@example.com", data["email"])
		assert.NotContains(t, data, "password")

		token, _ := data["token"].(string)
		claims, err := tokens.GetClaims(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, data["id"], claims.UserID.String())
	})

	t.Run("versioned route", func(t *testing.T) {
		body := map[string]string{"username": "foobar2", "email": "foobar2@example.com", "password": "Somepassword1@"}
		status, _ := post(t, "/api/v1/accounts/register", body)

		assert.Equal(t, http.StatusCreated, status)
		assert.Equal(t, 3, count(t))
	})
}

func registerRequest(username, email, password string) models.RegisterRequest {
	return models.RegisterRequest{Username: username, Email: email, Password: password}
}

func TestRun_Success(t *testing.T) {
	ctx := context.Background()
	pgHost, pgPort := startPostgres(t, ctx)

	redisReq := testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: redisReq, Started: true})
	require.NoError(t, err)
	defer redisContainer.Terminate(ctx)

	redisHost, _ := redisContainer.Host(ctx)
	redisPort, _ := redisContainer.MappedPort(ctx, "6379")

	resetEnv(t)
	cfg, err := parseConfig("nonexistent.env")
	require.NoError(t, err)

	cfg.AppHost, cfg.AppPort, cfg.GRPCHealthPort = "127.0.0.1", "0", "0"
	cfg.LogLevel = "debug"
	cfg.PGHost, cfg.PGPort, cfg.PGUser, cfg.PGPassword, cfg.PGDB = pgHost, pgPort, "user", "password", "testdb"
	cfg.RedisHost, cfg.RedisPort = redisHost, redisPort.Int()
	cfg.JWTSecretKey = "testsecret"

	testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(testCtx, cfg)
	}()

	select {
	case <-time.After(15 * time.Second):
		t.Fatal("test timed out")
	case err := <-errCh:
		assert.NoError(t, err, "expected run to succeed")
	}
}
