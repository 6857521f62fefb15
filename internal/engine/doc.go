/*
Engine wires the market data channel, the strategies and the order channel.

# Module
  - market data channel: single producer ring of ticks, fed by one feed producer
  - strategy dispatcher: single goroutine, runs every strategy on each tick in registration order
  - order publisher: strategies claim and publish order intents inline from the dispatcher goroutine
  - order channel: multi producer ring of order intents, drained by the execution handler

# Source
 1. historical CSV replay
 2. live websocket tick stream
 3. simulated random walk

# Produce
  - order intents to the execution handler, which books fills into the ledger

# Shutdown
 1. cancel the producer and wait for it
 2. close the market data channel, wait for the dispatcher to drain it
 3. close the order channel, wait for the execution handler to drain it
*/
package engine
