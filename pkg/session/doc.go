/*
Package session serialises work on a chat.

Manager hands out one mutex per chat, reference counted so idle chats leave
nothing behind. With a ports.DistributedLocker it also coordinates bot
replicas that share a database.
*/
package session
