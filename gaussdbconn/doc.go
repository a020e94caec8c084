// Package gaussdbconn is a low-level GaussDB connection that speaks the fastpath function call protocol.
/*
A GaussdbConn runs one request at a time: a simple query through Exec or a function call through CallFunction and its
typed variants. Go starts a call in the background and reports it on a channel.

Authentication

Connect answers trust, cleartext password and MD5 password requests. Any other authentication request, including
SCRAM-SHA-256 and the GaussDB sha256 and sm3 methods, fails the connection attempt with a ConnectError wrapping
"unsupported authentication type". Configure the server's pg_hba.conf entry for the client with md5 or trust to use this
package.
*/
package gaussdbconn
