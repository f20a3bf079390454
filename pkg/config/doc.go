/*
Package config loads the dispatcher configuration.

Configuration is a single JSON file layered over built-in defaults, so a
missing file or a file with only a handful of keys both produce a runnable
setup. The database backend can additionally be switched through the
GRIDPULL_DB_TYPE and GRIDPULL_DB_PATH environment variables, which take
precedence over the file.
*/
package config
