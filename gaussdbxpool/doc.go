// Package gaussdbxpool is a concurrency-safe pool of fastpath connections.
/*
A *gaussdbconn.GaussdbConn serves one call at a time. gaussdbxpool lets several goroutines work with large objects in
parallel, each on its own connection.

Creating a Pool

The primary way of creating a pool is with [gaussdbxpool.New]:

    pool, err := gaussdbxpool.New(context.Background(), os.Getenv("DATABASE_URL"))

The database connection string can be in URL or keyword/value format. GaussDB settings and pool settings can be
specified here. In addition, a config struct can be created by [ParseConfig].

    config, err := gaussdbxpool.ParseConfig(os.Getenv("DATABASE_URL"))
    if err != nil {
        // ...
    }
    config.AfterConnect = func(ctx context.Context, conn *gaussdbconn.GaussdbConn) error {
        // do something with every new connection
    }

    pool, err := gaussdbxpool.NewWithConfig(context.Background(), config)

A pool returns without waiting for any connections to be established. Acquire a connection immediately after creating
the pool to check if a connection can successfully be established.

Releasing a connection that is still inside a transaction destroys it rather than returning it to the pool.
*/
package gaussdbxpool
