// Package gaussdblo provides access to GaussDB large objects over the fastpath function call protocol.
/*
Large objects are stored by the server as a sequence of pages and addressed by OID. They are manipulated through a set of
catalog functions (lo_open, loread, lowrite, lo_lseek64, ...) that gaussdblo calls directly with the fastpath
FunctionCall message instead of issuing SQL. Arguments and results travel in binary form, and read results are copied
straight from the connection's read buffer into the caller's buffer.

Establishing a Connection

Large objects are used through a [gaussdbconn.GaussdbConn]:

    conn, err := gaussdbconn.Connect(context.Background(), os.Getenv("DATABASE_URL"))

Only trust, cleartext password and MD5 authentication are supported. Servers requiring SCRAM-SHA-256 or the GaussDB
sha256 and sm3 methods refuse the connection with an "unsupported authentication type" error.

Large object descriptors are only valid inside a transaction. Start one before opening a large object:

    _, err = conn.Exec(ctx, "begin")

Creating and Writing

    lo := gaussdblo.NewLargeObjects(conn)
    oid, err := lo.Create(ctx, 0)
    if err != nil {
        return err
    }

    obj, err := lo.OpenReadWrite(ctx, oid)
    if err != nil {
        return err
    }
    _, err = obj.Write([]byte("Hello"))

A LargeObject implements io.Reader, io.Writer, io.Seeker and io.Closer. Reads and writes larger than
LargeObjects.MaxTransferBlockSize (4 MiB by default) are split into several calls.

Server Versions

Servers before 9.3 only support 32-bit offsets. Seek and Truncate with larger offsets return ErrOffsetOutOfRange on such
servers. The whole object functions FromBytes, Get, GetFragment and Put require 9.4 or later and return
ErrNotSupported otherwise.

Errors

Errors reported by the server are returned as *gaussdbconn.GaussdbError and leave the connection usable, though the
transaction is aborted. Usage errors such as ErrReadOnly are returned before anything is sent. Protocol violations and
transport failures close the connection.
*/
package gaussdblo
