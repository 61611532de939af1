/*
Package storage keeps the console's local state in a BoltDB file.

The store lives at <data-dir>/fleetconsole.db and holds two buckets:

	preferences   volume_id_len  JSON int, 0 = unlimited
	              volume_id_url  JSON string with a VOLUMEID placeholder, "" = disabled
	manifests     <image type>   last successfully fetched manifest, JSON

Preferences are display settings. The console core only reads them (through
types.Preferences) when rendering; the prefs CLI command writes them.

The manifest cache is written by the console after each successful fetch,
so `fleetconsole manifest --cached` can show builds without reaching the
server.

BoltDB takes an exclusive file lock, so only one process can open the store
at a time. NewBoltStore gives up after one second instead of waiting forever.
*/
package storage
