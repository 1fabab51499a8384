package port

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nobletooth/skipkv/pkg/storage"
	"github.com/nobletooth/skipkv/pkg/utils"
	"github.com/tidwall/redcon"
)

const RedisOk = "OK"

var (
	address        = flag.String("address", ":6380", "The ip:port to listen on for Redis protocol.")
	saveOnShutdown = flag.Bool("save_on_shutdown", true, "Save the store to --dump_file when the server stops.")
)

// redisCommand represents a Redis command with its arguments.
type redisCommand struct {
	command string
	args    []string
}

// redisOutput conforms to a real Redis server output on non pub / sub commands.
type redisOutput struct {
	closeConnection bool     // Closes the connection if true.
	writeNil        bool     // Writes a nil value if true.
	err             *string  // Error to return if set.
	writeInt        *int     // Writes an integer value if set.
	writeArray      []string // Writes an array of bulk strings if non-nil.
	writeBulk       *string  // Writes a bulk string if set.
	writeString     string   // Writes a simple string otherwise.
}

func closeRedisConnection(msg string) redisOutput {
	return redisOutput{writeString: msg, closeConnection: true}
}

func writeRedisNil() redisOutput {
	return redisOutput{writeNil: true}
}

func writeRedisInt(i int) redisOutput {
	return redisOutput{writeInt: &i}
}

func writeRedisString(s string) redisOutput {
	return redisOutput{writeString: s}
}

func writeRedisBulk(s string) redisOutput {
	return redisOutput{writeBulk: &s}
}

func writeRedisArray(items []string) redisOutput {
	if items == nil {
		items = []string{}
	}
	return redisOutput{writeArray: items}
}

func writeRedisError(err error) redisOutput {
	msg := "ERR " + err.Error()
	return redisOutput{err: &msg}
}

func wrongArgCount(command string) redisOutput {
	return writeRedisError(fmt.Errorf("wrong number of arguments for '%s' command", strings.ToLower(command)))
}

// writeTo sends the output over `conn` in RESP.
func (o redisOutput) writeTo(conn redcon.Conn) {
	switch {
	case o.err != nil:
		conn.WriteError(*o.err)
	case o.writeNil:
		conn.WriteNull()
	case o.writeInt != nil:
		conn.WriteInt(*o.writeInt)
	case o.writeArray != nil:
		conn.WriteArray(len(o.writeArray))
		for _, item := range o.writeArray {
			conn.WriteBulkString(item)
		}
	case o.writeBulk != nil:
		conn.WriteBulkString(*o.writeBulk)
	default:
		conn.WriteString(o.writeString)
	}
}

type redisHandler struct {
	ctx      context.Context // Bounds SAVE's wait on the dump file lock.
	store    *Store
	dumpPath string // Target of SAVE; SAVE fails when empty.
}

// newRedisHandler creates a new redisHandler.
func newRedisHandler(ctx context.Context, store *Store, dumpPath string) (*redisHandler, error) {
	if store == nil {
		return nil, errors.New("expected a non-nil store")
	}
	return &redisHandler{ctx: ctx, store: store, dumpPath: dumpPath}, nil
}

func (rh *redisHandler) handle(cmd redisCommand) redisOutput {
	switch command := strings.ToUpper(cmd.command); command {
	case "PING":
		switch len(cmd.args) {
		case 0:
			return writeRedisString("PONG")
		case 1:
			return writeRedisBulk(cmd.args[0])
		default:
			return wrongArgCount(command)
		}
	case "QUIT":
		return closeRedisConnection(RedisOk)
	case "SET":
		if len(cmd.args) != 2 {
			return wrongArgCount(command)
		}
		if _, _, err := rh.store.Set(cmd.args[0], cmd.args[1]); err != nil {
			return writeRedisError(err)
		}
		return writeRedisString(RedisOk)
	case "GET":
		if len(cmd.args) != 1 {
			return wrongArgCount(command)
		}
		if value, err := rh.store.Get(cmd.args[0]); errors.Is(err, storage.ErrKeyNotFound) {
			return writeRedisNil()
		} else if err != nil {
			return writeRedisError(err)
		} else {
			return writeRedisBulk(value)
		}
	case "DEL":
		if len(cmd.args) < 1 {
			return wrongArgCount(command)
		}
		deletedCount := 0
		for _, key := range cmd.args {
			if err := rh.store.Delete(key); err == nil {
				deletedCount++
			} else if !errors.Is(err, storage.ErrKeyNotFound) {
				return writeRedisError(err)
			}
		}
		return writeRedisInt(deletedCount)
	case "EXISTS":
		if len(cmd.args) < 1 {
			return wrongArgCount(command)
		}
		existing := 0
		for _, key := range cmd.args {
			if rh.store.Exists(key) {
				existing++
			}
		}
		return writeRedisInt(existing)
	case "DBSIZE":
		if len(cmd.args) != 0 {
			return wrongArgCount(command)
		}
		return writeRedisInt(rh.store.Len())
	case "KEYS":
		if len(cmd.args) != 1 {
			return wrongArgCount(command)
		}
		pairs, err := rh.store.Scan(cmd.args[0])
		if err != nil {
			return writeRedisError(err)
		}
		keys := make([]string, len(pairs))
		for i, pair := range pairs {
			keys[i] = pair.Key
		}
		return writeRedisArray(keys)
	case "SAVE":
		if len(cmd.args) != 0 {
			return wrongArgCount(command)
		}
		if rh.dumpPath == "" {
			return writeRedisError(errors.New("no dump file configured; set --dump_file"))
		}
		if err := rh.store.Save(rh.ctx, rh.dumpPath); err != nil {
			return writeRedisError(err)
		}
		return writeRedisString(RedisOk)
	case "FLUSHDB":
		if len(cmd.args) != 0 {
			return wrongArgCount(command)
		}
		rh.store.Flush()
		return writeRedisString(RedisOk)
	default:
		return writeRedisError(fmt.Errorf("unknown command '%s'", cmd.command))
	}
}

// RunRedisServer serves `store` over the Redis protocol until `ctx` is done. When --save_on_shutdown is set and
// `dumpPath` isn't empty, the store is saved to `dumpPath` on the way out.
func RunRedisServer(ctx context.Context, store *Store, dumpPath string) error {
	if *address == "" {
		return errors.New("expected a non-empty --address flag")
	}

	redisHandler, err := newRedisHandler(ctx, store, dumpPath)
	if err != nil {
		return fmt.Errorf("failed to create a new redis handler: %w", err)
	}

	redisServer := redcon.NewServerNetwork("tcp" /*net*/, *address,
		/*handler*/ func(conn redcon.Conn, cmd redcon.Command) {
			// Convert redcon.Command to redisCommand.
			command := redisCommand{command: string(cmd.Args[0]), args: make([]string, len(cmd.Args)-1)}
			for i := 1; i < len(cmd.Args); i++ {
				command.args[i-1] = string(cmd.Args[i])
			}
			output := redisHandler.handle(command)
			output.writeTo(conn)
			if output.closeConnection {
				if err := conn.Close(); err != nil {
					slog.Error("Failed to close connection.", "error", err)
				}
			}
		},
		/*accept*/ func(conn redcon.Conn) bool {
			slog.Debug("Accepted connection.", "remote", conn.RemoteAddr())
			return true // Accept all connections.
		},
		/*close*/ func(conn redcon.Conn, err error) {
			if err != nil {
				slog.Debug("Connection closed with error.", "remote", conn.RemoteAddr(), "error", err)
			}
		})

	serverErrSignal := make(chan error, 1)
	go func() {
		slog.Info("Serving Redis protocol.", "address", *address, "version", utils.Version)
		if err := redisServer.ListenAndServe(); err != nil {
			serverErrSignal <- err
		}
		close(serverErrSignal)
	}()

	select {
	case <-ctx.Done():
		serverErr := redisServer.Close()
		var saveErr error
		if *saveOnShutdown && dumpPath != "" {
			// The serving context is already done; the final save must not be cut short by it.
			saveErr = store.Save(context.WithoutCancel(ctx), dumpPath)
		}
		if exitErr := errors.Join(serverErr, saveErr); exitErr != nil {
			return fmt.Errorf("failed to shut down skipkv: %w", exitErr)
		}
	case err := <-serverErrSignal:
		return fmt.Errorf("redis server stopped unexpectedly: %w", err)
	}

	return nil // Exited with no errors.
}
